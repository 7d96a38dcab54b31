package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func runReader(t *testing.T, input string) ([]TelemetryReport, *Metrics) {
	t.Helper()
	out := make(chan TelemetryReport, 64)
	metrics := NewMetrics()
	reader, err := NewTelemetryReader(strings.NewReader(input), out, metrics)
	if err != nil {
		t.Fatalf("building reader: %v", err)
	}
	if err := reader.Run(context.Background()); err != nil {
		t.Fatalf("reader run: %v", err)
	}
	close(out)
	var reports []TelemetryReport
	for rep := range out {
		reports = append(reports, rep)
	}
	return reports, metrics
}

func TestTelemetryReader_AcceptsValidReports(t *testing.T) {
	input := `{"timestamp":"2026-01-15T10:00:00Z","source":"plant-1","stability_margin":0.8,"control_cost":2.5}
{"timestamp":"2026-01-15T10:00:01Z","source":"netmon","latency_p95_ms":12.0,"jitter_std_ms":3.0,"loss_rate":0.01}
`
	reports, metrics := runReader(t, input)

	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if reports[0].Source != "plant-1" || *reports[0].StabilityMargin != 0.8 {
		t.Errorf("first report wrong: %+v", reports[0])
	}
	if reports[1].LatencyP95Ms == nil || *reports[1].LatencyP95Ms != 12.0 {
		t.Errorf("second report wrong: %+v", reports[1])
	}
	want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	if !reports[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", reports[0].Timestamp, want)
	}
	if metrics.Snapshot().DroppedReports != 0 {
		t.Errorf("nothing should be dropped, got %d", metrics.Snapshot().DroppedReports)
	}
}

// TestTelemetryReader_DropsBadReportsWithoutStopping feeds a stream
// mixing good lines with every rejection class: invalid JSON, missing
// required fields, out-of-range values, and a zero timestamp. The good
// lines must come through; each bad one is counted.
func TestTelemetryReader_DropsBadReportsWithoutStopping(t *testing.T) {
	input := `{"timestamp":"2026-01-15T10:00:00Z","source":"plant-1","stability_margin":0.8}
not json at all
{"source":"plant-1","stability_margin":0.8}
{"timestamp":"2026-01-15T10:00:02Z","source":"netmon","loss_rate":1.5}
{"timestamp":"2026-01-15T10:00:03Z","source":"plant-1","stability_margin":-0.2}
{"timestamp":"0001-01-01T00:00:00Z","source":"plant-1","stability_margin":0.8}
{"timestamp":"2026-01-15T10:00:05Z","source":"plant-1","stability_margin":0.9}
`
	reports, metrics := runReader(t, input)

	if len(reports) != 2 {
		t.Fatalf("expected the 2 valid reports to survive, got %d", len(reports))
	}
	if got := metrics.Snapshot().DroppedReports; got != 5 {
		t.Errorf("dropped = %d, want 5", got)
	}
}

func TestTelemetryReader_SkipsBlankLines(t *testing.T) {
	input := "\n\n{\"timestamp\":\"2026-01-15T10:00:00Z\",\"source\":\"plant-1\"}\n\n"
	reports, metrics := runReader(t, input)

	if len(reports) != 1 {
		t.Fatalf("expected 1 report, got %d", len(reports))
	}
	if metrics.Snapshot().DroppedReports != 0 {
		t.Error("blank lines are not drops")
	}
}

func TestTelemetryReader_UnknownFieldsTolerated(t *testing.T) {
	input := `{"timestamp":"2026-01-15T10:00:00Z","source":"plant-1","stability_margin":0.8,"firmware":"v2"}
`
	reports, _ := runReader(t, input)
	if len(reports) != 1 {
		t.Fatalf("extra fields must not reject a report, got %d reports", len(reports))
	}
}

func TestTelemetryReader_CancellationStopsDelivery(t *testing.T) {
	// Unbuffered output and a cancelled context: Run must return the
	// context error instead of blocking on the send.
	out := make(chan TelemetryReport)
	reader, err := NewTelemetryReader(
		strings.NewReader(`{"timestamp":"2026-01-15T10:00:00Z","source":"plant-1"}`+"\n"),
		out, NewMetrics())
	if err != nil {
		t.Fatalf("building reader: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := reader.Run(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

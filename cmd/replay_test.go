package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

// TestReadTrace_OrdersAndFilters loads a trace with out-of-order
// timestamps and one malformed line: reports come back time-ordered with
// the bad line dropped.
func TestReadTrace_OrdersAndFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	trace := `{"timestamp":"2026-01-15T10:00:02Z","source":"netmon","loss_rate":0.01}
{"timestamp":"2026-01-15T10:00:00Z","source":"plant-1","stability_margin":0.9}
garbage
{"timestamp":"2026-01-15T10:00:01Z","source":"plant-1","stability_margin":0.8}
`
	if err := os.WriteFile(path, []byte(trace), 0o644); err != nil {
		t.Fatal(err)
	}

	reports, err := readTrace(path)
	if err != nil {
		t.Fatalf("readTrace: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].Timestamp.Before(reports[i-1].Timestamp) {
			t.Errorf("reports out of order at %d: %v after %v",
				i, reports[i-1].Timestamp, reports[i].Timestamp)
		}
	}
	if reports[0].Source != "plant-1" || reports[2].Source != "netmon" {
		t.Errorf("ordering wrong: first=%s last=%s", reports[0].Source, reports[2].Source)
	}
}

func TestReadTrace_MissingFile(t *testing.T) {
	if _, err := readTrace(filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Error("missing trace file must be an error")
	}
}

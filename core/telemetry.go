package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
)

// telemetrySchema validates incoming reports at the ingest boundary.
// Malformed reports are counted and dropped; they never reach the
// estimator and never crash ingestion.
const telemetrySchema = `{
  "type": "object",
  "required": ["timestamp", "source"],
  "properties": {
    "timestamp": {"type": "string"},
    "source": {"type": "string", "minLength": 1},
    "stability_margin": {"type": "number", "minimum": 0},
    "control_cost": {"type": "number", "minimum": 0},
    "latency_p95_ms": {"type": "number", "minimum": 0},
    "jitter_std_ms": {"type": "number", "minimum": 0},
    "loss_rate": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

// TelemetryReader consumes a JSON-lines telemetry stream, validates each
// report against the schema, and hands accepted reports to the control
// loop over a buffered channel (single producer, single consumer — the
// loop drains the channel at tick start, so no shared mutable state
// crosses the goroutine boundary).
type TelemetryReader struct {
	r       io.Reader
	out     chan<- TelemetryReport
	schema  *jsonschema.Schema
	metrics *Metrics
	log     *logrus.Entry
}

// NewTelemetryReader creates a reader feeding out.
func NewTelemetryReader(r io.Reader, out chan<- TelemetryReport, metrics *Metrics) (*TelemetryReader, error) {
	schema, err := jsonschema.CompileString("telemetry.json", telemetrySchema)
	if err != nil {
		return nil, fmt.Errorf("compiling telemetry schema: %w", err)
	}
	return &TelemetryReader{
		r:       r,
		out:     out,
		schema:  schema,
		metrics: metrics,
		log:     logrus.WithField("component", "telemetry"),
	}, nil
}

// Run reads until EOF or context cancellation. Returns nil on EOF.
func (t *TelemetryReader) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		rep, err := t.parse(line)
		if err != nil {
			t.metrics.RecordDroppedReport()
			t.log.WithError(err).Debug("dropping malformed telemetry report")
			continue
		}
		select {
		case t.out <- rep:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading telemetry: %w", err)
	}
	return nil
}

func (t *TelemetryReader) parse(line []byte) (TelemetryReport, error) {
	var raw any
	if err := json.Unmarshal(line, &raw); err != nil {
		return TelemetryReport{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := t.schema.Validate(raw); err != nil {
		return TelemetryReport{}, fmt.Errorf("schema violation: %w", err)
	}
	var rep TelemetryReport
	if err := json.Unmarshal(line, &rep); err != nil {
		return TelemetryReport{}, fmt.Errorf("decoding report: %w", err)
	}
	if rep.Timestamp.IsZero() {
		return TelemetryReport{}, fmt.Errorf("report has zero timestamp")
	}
	return rep, nil
}

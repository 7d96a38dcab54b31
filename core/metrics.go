package core

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Metrics aggregates decision-core statistics for the periodic export
// and the status API: last observed stability margin, dispatch counts
// per policy, sink failures per cooldown key, and recovery totals.
type Metrics struct {
	mu sync.Mutex

	ticks           int64
	skippedTicks    int64
	droppedReports  int64
	stabilityMargin float64
	activePolicy    string

	dispatches map[string]int64 // by source policy
	sinkErrors map[string]int64 // by cooldown key

	recoveries  int64
	lastMTTRSec float64
}

// MetricsSnapshot is the JSON view served by the status API.
type MetricsSnapshot struct {
	Ticks           int64            `json:"ticks"`
	SkippedTicks    int64            `json:"skipped_ticks"`
	DroppedReports  int64            `json:"dropped_reports"`
	StabilityMargin float64          `json:"stability_margin"`
	ActivePolicy    string           `json:"active_policy"`
	Dispatches      map[string]int64 `json:"dispatches"`
	SinkErrors      map[string]int64 `json:"sink_errors"`
	Recoveries      int64            `json:"recoveries"`
	LastMTTRSeconds float64          `json:"last_mttr_seconds"`
}

// NewMetrics returns an empty accumulator.
func NewMetrics() *Metrics {
	return &Metrics{
		dispatches: make(map[string]int64),
		sinkErrors: make(map[string]int64),
	}
}

// ObserveTick records the per-tick state and which policy acted ("" for
// hold).
func (m *Metrics) ObserveTick(state SystemState, activePolicy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	m.stabilityMargin = state.StabilityMargin
	m.activePolicy = activePolicy
}

// RecordSkippedTick counts a tick lost to IncompleteStateError.
func (m *Metrics) RecordSkippedTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	m.skippedTicks++
}

// RecordDroppedReport counts a telemetry report rejected at ingest.
func (m *Metrics) RecordDroppedReport() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedReports++
}

// RecordDispatch counts a dispatched envelope by source policy.
func (m *Metrics) RecordDispatch(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches[source]++
}

// RecordSinkError counts a failed dispatch against its cooldown key.
// Repeated failures for the same key surface as degraded health in the
// export, not as a crash.
func (m *Metrics) RecordSinkError(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkErrors[key]++
}

// RecordRecovery records a closed recovery window.
func (m *Metrics) RecordRecovery(mttr time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveries++
	m.lastMTTRSec = mttr.Seconds()
}

// Snapshot returns a copy for the status API.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	dispatches := make(map[string]int64, len(m.dispatches))
	for k, v := range m.dispatches {
		dispatches[k] = v
	}
	sinkErrors := make(map[string]int64, len(m.sinkErrors))
	for k, v := range m.sinkErrors {
		sinkErrors[k] = v
	}
	return MetricsSnapshot{
		Ticks:           m.ticks,
		SkippedTicks:    m.skippedTicks,
		DroppedReports:  m.droppedReports,
		StabilityMargin: m.stabilityMargin,
		ActivePolicy:    m.activePolicy,
		Dispatches:      dispatches,
		SinkErrors:      sinkErrors,
		Recoveries:      m.recoveries,
		LastMTTRSeconds: m.lastMTTRSec,
	}
}

// Reset clears all counters.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks = 0
	m.skippedTicks = 0
	m.droppedReports = 0
	m.recoveries = 0
	m.lastMTTRSec = 0
	m.activePolicy = ""
	m.dispatches = make(map[string]int64)
	m.sinkErrors = make(map[string]int64)
}

// Emit writes the periodic metrics export line.
func (m *Metrics) Emit(log *logrus.Entry) {
	snap := m.Snapshot()
	log.WithFields(logrus.Fields{
		"ticks":            snap.Ticks,
		"skipped_ticks":    snap.SkippedTicks,
		"dropped_reports":  snap.DroppedReports,
		"stability_margin": snap.StabilityMargin,
		"active_policy":    snap.ActivePolicy,
		"recoveries":       snap.Recoveries,
		"last_mttr_s":      snap.LastMTTRSeconds,
		"sink_errors":      snap.SinkErrors,
	}).Info("metrics export")
}

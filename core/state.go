package core

import (
	"sort"
	"time"
)

// Field names a telemetry field of the canonical state vector.
type Field string

const (
	FieldStabilityMargin Field = "stability_margin"
	FieldControlCost     Field = "control_cost"
	FieldLatencyP95      Field = "latency_p95_ms"
	FieldJitterStd       Field = "jitter_std_ms"
	FieldLossRate        Field = "loss_rate"
)

// stateFields lists the numeric fields in canonical (context vector) order.
var stateFields = []Field{
	FieldStabilityMargin,
	FieldControlCost,
	FieldLatencyP95,
	FieldJitterStd,
	FieldLossRate,
}

// TelemetryReport is one partial-field observation from a telemetry
// source. Reports may arrive out of order or late; nil fields were not
// measured by this report.
type TelemetryReport struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"`
	StabilityMargin *float64  `json:"stability_margin,omitempty"`
	ControlCost     *float64  `json:"control_cost,omitempty"`
	LatencyP95Ms    *float64  `json:"latency_p95_ms,omitempty"`
	JitterStdMs     *float64  `json:"jitter_std_ms,omitempty"`
	LossRate        *float64  `json:"loss_rate,omitempty"`
}

// SystemState is the immutable per-tick snapshot consumed by the
// policies, the arbiter, and the recovery tracker. It is produced once
// per tick by the StateEstimator and never mutated afterwards — a newer
// snapshot supersedes it.
type SystemState struct {
	Timestamp time.Time
	Tick      int64

	StabilityMargin float64
	ControlCost     float64
	LatencyP95Ms    float64
	JitterStdMs     float64
	LossRate        float64

	// ActiveAgents lists the telemetry sources heard from within the
	// staleness window, sorted for determinism.
	ActiveAgents []string

	// StaleTicks counts, per field, how many consecutive ticks the value
	// has been carried forward (or defaulted) without a fresh sample.
	// Zero means fresh.
	StaleTicks map[Field]int
}

// Value returns the named numeric field.
func (s SystemState) Value(f Field) float64 {
	switch f {
	case FieldStabilityMargin:
		return s.StabilityMargin
	case FieldControlCost:
		return s.ControlCost
	case FieldLatencyP95:
		return s.LatencyP95Ms
	case FieldJitterStd:
		return s.JitterStdMs
	case FieldLossRate:
		return s.LossRate
	}
	return 0
}

// MaxStaleTicks returns the largest consecutive-stale-tick count across
// the numeric fields.
func (s SystemState) MaxStaleTicks() int {
	max := 0
	for _, f := range stateFields {
		if s.StaleTicks[f] > max {
			max = s.StaleTicks[f]
		}
	}
	return max
}

// EstimatorConfig holds the state estimator's freshness policy.
type EstimatorConfig struct {
	// StalenessWindow bounds how old a sample may be before its field is
	// marked stale and carried forward.
	StalenessWindow Duration `yaml:"staleness_window"`

	// GracePeriod bounds how long the estimator tolerates a
	// never-observed stability margin before failing the tick with
	// IncompleteStateError. The margin is the one field that must never
	// be silently defaulted into an unsafe action.
	GracePeriod Duration `yaml:"grace_period"`

	// DefaultMargin is the neutral stand-in for an unobserved stability
	// margin during the grace period. Mid-range on purpose: 0 would
	// trigger the emergency rule, a large value would mask real onsets.
	DefaultMargin float64 `yaml:"default_margin"`
}

// DefaultEstimatorConfig returns the freshness policy used when the
// config file leaves the estimator section out.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		StalenessWindow: Duration(2 * time.Second),
		GracePeriod:     Duration(5 * time.Second),
		DefaultMargin:   1.0,
	}
}

type fieldSample struct {
	value    float64
	seen     time.Time // report timestamp of the newest accepted sample
	observed bool
}

// StateEstimator folds partial, unordered telemetry reports into one
// SystemState per tick. Out-of-order reports are reconciled per field:
// only a sample newer than the current one replaces it.
type StateEstimator struct {
	cfg        EstimatorConfig
	samples    map[Field]*fieldSample
	staleTicks map[Field]int
	agents     map[string]time.Time
	start      time.Time // first Snapshot call; anchors the grace period
	started    bool
}

// NewStateEstimator creates an estimator with the given freshness policy.
func NewStateEstimator(cfg EstimatorConfig) *StateEstimator {
	samples := make(map[Field]*fieldSample, len(stateFields))
	stale := make(map[Field]int, len(stateFields))
	for _, f := range stateFields {
		samples[f] = &fieldSample{}
	}
	return &StateEstimator{
		cfg:        cfg,
		samples:    samples,
		staleTicks: stale,
		agents:     make(map[string]time.Time),
	}
}

// Observe folds one telemetry report into the estimator. Reports may
// carry any subset of fields and arrive in any order.
func (e *StateEstimator) Observe(rep TelemetryReport) {
	if rep.Source != "" {
		if prev, ok := e.agents[rep.Source]; !ok || rep.Timestamp.After(prev) {
			e.agents[rep.Source] = rep.Timestamp
		}
	}
	e.accept(FieldStabilityMargin, rep.StabilityMargin, rep.Timestamp)
	e.accept(FieldControlCost, rep.ControlCost, rep.Timestamp)
	e.accept(FieldLatencyP95, rep.LatencyP95Ms, rep.Timestamp)
	e.accept(FieldJitterStd, rep.JitterStdMs, rep.Timestamp)
	e.accept(FieldLossRate, rep.LossRate, rep.Timestamp)
}

func (e *StateEstimator) accept(f Field, v *float64, ts time.Time) {
	if v == nil {
		return
	}
	s := e.samples[f]
	if s.observed && !ts.After(s.seen) {
		return // late duplicate; newest sample wins
	}
	s.value = *v
	s.seen = ts
	s.observed = true
}

// Snapshot produces the SystemState for one tick. Unobserved fields take
// their documented defaults; fields without a fresh sample inside the
// staleness window carry the last known value forward with their stale
// tick count incremented. Fails only when the stability margin has never
// been observed after the grace period.
func (e *StateEstimator) Snapshot(now time.Time, tick int64) (SystemState, error) {
	if !e.started {
		e.start = now
		e.started = true
	}

	margin := e.samples[FieldStabilityMargin]
	if !margin.observed && now.Sub(e.start) > e.cfg.GracePeriod.Std() {
		return SystemState{}, &IncompleteStateError{Field: FieldStabilityMargin, Grace: e.cfg.GracePeriod.Std()}
	}

	stale := make(map[Field]int, len(stateFields))
	state := SystemState{Timestamp: now, Tick: tick, StaleTicks: stale}
	for _, f := range stateFields {
		s := e.samples[f]
		fresh := s.observed && now.Sub(s.seen) <= e.cfg.StalenessWindow.Std()
		if fresh {
			e.staleTicks[f] = 0
		} else {
			e.staleTicks[f]++
		}
		stale[f] = e.staleTicks[f]

		value := s.value
		if !s.observed && f == FieldStabilityMargin {
			value = e.cfg.DefaultMargin
		}
		switch f {
		case FieldStabilityMargin:
			state.StabilityMargin = value
		case FieldControlCost:
			state.ControlCost = value
		case FieldLatencyP95:
			state.LatencyP95Ms = value
		case FieldJitterStd:
			state.JitterStdMs = value
		case FieldLossRate:
			state.LossRate = value
		}
	}

	for source, seen := range e.agents {
		if now.Sub(seen) <= e.cfg.StalenessWindow.Std() {
			state.ActiveAgents = append(state.ActiveAgents, source)
		} else {
			delete(e.agents, source)
		}
	}
	sort.Strings(state.ActiveAgents)
	return state, nil
}

package core

import (
	"errors"
	"testing"
	"time"
)

func report(ts time.Time, source string, mutate func(*TelemetryReport)) TelemetryReport {
	rep := TelemetryReport{Timestamp: ts, Source: source}
	mutate(&rep)
	return rep
}

func TestStateEstimator_FreshFieldsLandInSnapshot(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	est.Observe(report(base, "plant-1", func(r *TelemetryReport) {
		r.StabilityMargin = floatPtr(0.8)
		r.ControlCost = floatPtr(2.5)
	}))
	est.Observe(report(base, "netmon", func(r *TelemetryReport) {
		r.LatencyP95Ms = floatPtr(12.0)
		r.JitterStdMs = floatPtr(3.0)
		r.LossRate = floatPtr(0.01)
	}))

	state, err := est.Snapshot(base.Add(100*time.Millisecond), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.StabilityMargin != 0.8 || state.ControlCost != 2.5 {
		t.Errorf("control fields wrong: %+v", state)
	}
	if state.LatencyP95Ms != 12.0 || state.JitterStdMs != 3.0 || state.LossRate != 0.01 {
		t.Errorf("network fields wrong: %+v", state)
	}
	if state.MaxStaleTicks() != 0 {
		t.Errorf("all fields fresh, MaxStaleTicks = %d", state.MaxStaleTicks())
	}
	if len(state.ActiveAgents) != 2 || state.ActiveAgents[0] != "netmon" || state.ActiveAgents[1] != "plant-1" {
		t.Errorf("active agents should be sorted [netmon plant-1], got %v", state.ActiveAgents)
	}
}

// TestStateEstimator_CarryForwardMarksStale verifies the missing-field
// policy: without a fresh sample inside the staleness window, the last
// known value is carried forward and the stale tick count grows.
func TestStateEstimator_CarryForwardMarksStale(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	est.Observe(report(base, "plant-1", func(r *TelemetryReport) {
		r.StabilityMargin = floatPtr(0.9)
		r.JitterStdMs = floatPtr(5.0)
	}))

	// First snapshot inside the window: fresh.
	state, _ := est.Snapshot(base.Add(time.Second), 0)
	if state.StaleTicks[FieldJitterStd] != 0 {
		t.Error("jitter should be fresh within the staleness window")
	}

	// Jitter goes silent; margin keeps reporting.
	for tick := int64(1); tick <= 3; tick++ {
		now := base.Add(time.Duration(tick+2) * time.Second)
		est.Observe(report(now, "plant-1", func(r *TelemetryReport) {
			r.StabilityMargin = floatPtr(0.9)
		}))
		state, _ = est.Snapshot(now, tick)
	}

	if state.JitterStdMs != 5.0 {
		t.Errorf("stale jitter must carry forward 5.0, got %v", state.JitterStdMs)
	}
	if state.StaleTicks[FieldJitterStd] != 3 {
		t.Errorf("jitter stale for 3 consecutive ticks, got %d", state.StaleTicks[FieldJitterStd])
	}
	if state.StaleTicks[FieldStabilityMargin] != 0 {
		t.Error("margin kept reporting and must stay fresh")
	}
}

func TestStateEstimator_OutOfOrderReportsNewestWins(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	est.Observe(report(base.Add(2*time.Second), "plant-1", func(r *TelemetryReport) {
		r.StabilityMargin = floatPtr(0.4)
	}))
	// A late report with an older timestamp must not clobber the newer sample.
	est.Observe(report(base, "plant-1", func(r *TelemetryReport) {
		r.StabilityMargin = floatPtr(1.5)
	}))

	state, _ := est.Snapshot(base.Add(3*time.Second), 0)
	if state.StabilityMargin != 0.4 {
		t.Errorf("newest sample must win, got %v", state.StabilityMargin)
	}
}

// TestStateEstimator_DefaultMarginDuringGrace verifies the documented
// default: an unobserved stability margin reads as the neutral mid-range
// value during the grace period so no emergency rule fires spuriously.
func TestStateEstimator_DefaultMarginDuringGrace(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	state, err := est.Snapshot(base, 0)
	if err != nil {
		t.Fatalf("snapshot inside grace period must not fail: %v", err)
	}
	if state.StabilityMargin != 1.0 {
		t.Errorf("unobserved margin should default to 1.0, got %v", state.StabilityMargin)
	}
	if state.StaleTicks[FieldStabilityMargin] == 0 {
		t.Error("defaulted margin must be marked stale")
	}
}

func TestStateEstimator_IncompleteStateAfterGrace(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	if _, err := est.Snapshot(base, 0); err != nil {
		t.Fatalf("first snapshot anchors the grace period: %v", err)
	}

	_, err := est.Snapshot(base.Add(6*time.Second), 1)
	var incomplete *IncompleteStateError
	if !errors.As(err, &incomplete) {
		t.Fatalf("expected IncompleteStateError after grace, got %v", err)
	}
	if incomplete.Field != FieldStabilityMargin {
		t.Errorf("error should name the margin field, got %s", incomplete.Field)
	}
}

func TestStateEstimator_AgentSetPrunesStaleSources(t *testing.T) {
	est := NewStateEstimator(DefaultEstimatorConfig())
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	est.Observe(report(base, "plant-1", func(r *TelemetryReport) {
		r.StabilityMargin = floatPtr(1.0)
	}))
	est.Observe(report(base.Add(4*time.Second), "plant-2", func(r *TelemetryReport) {
		r.ControlCost = floatPtr(1.0)
	}))

	state, _ := est.Snapshot(base.Add(5*time.Second), 0)
	if len(state.ActiveAgents) != 1 || state.ActiveAgents[0] != "plant-2" {
		t.Errorf("plant-1 is outside the staleness window, got %v", state.ActiveAgents)
	}
}

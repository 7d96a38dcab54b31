package core

import (
	"testing"
	"time"
)

func testState(margin, jitter, loss float64) SystemState {
	return SystemState{
		Timestamp:       time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		StabilityMargin: margin,
		JitterStdMs:     jitter,
		LossRate:        loss,
		StaleTicks:      map[Field]int{},
	}
}

// TestReflexPolicy_EmergencyRuleWinsFirst verifies the behavioral
// contract that rule order is fixed and first-match-wins: a state that
// satisfies all three rule conditions must yield the emergency bundle
// and nothing else.
func TestReflexPolicy_EmergencyRuleWinsFirst(t *testing.T) {
	policy := NewReflexPolicy(DefaultReflexConfig())
	cooldowns := NewCooldownTable()

	// Margin, jitter, and loss all past their thresholds at once.
	state := testState(0.1, 50.0, 0.10)

	prop := policy.Propose(state, cooldowns, state.Timestamp)
	if prop == nil {
		t.Fatal("expected an emergency proposal")
	}
	if prop.CooldownKey != KeyEmergencyStabilize {
		t.Errorf("expected %s to win, got %s", KeyEmergencyStabilize, prop.CooldownKey)
	}
	if prop.Source != SourceReflex {
		t.Errorf("expected reflex source, got %s", prop.Source)
	}
}

func TestReflexPolicy_EmergencyBundleContents(t *testing.T) {
	cfg := DefaultReflexConfig()
	policy := NewReflexPolicy(cfg)

	prop := policy.Propose(testState(0.2, 0, 0), NewCooldownTable(), time.Now())
	if prop == nil {
		t.Fatal("expected a proposal for margin below 0.3")
	}
	b := prop.Bundle
	if b.Control.SamplingPeriodSec == nil || *b.Control.SamplingPeriodSec != cfg.SamplingFloorSec {
		t.Errorf("emergency bundle should pin sampling to the floor %v", cfg.SamplingFloorSec)
	}
	if b.Network.DSCP == nil || *b.Network.DSCP != cfg.MaxDSCP {
		t.Errorf("emergency bundle should set maximum DSCP %d", cfg.MaxDSCP)
	}
	if b.Network.AdmissionControl == nil || !*b.Network.AdmissionControl {
		t.Error("emergency bundle should enable admission control")
	}
	if b.Network.Redundancy == nil || !*b.Network.Redundancy {
		t.Error("emergency bundle should enable redundancy")
	}
	if b.IsNoop() {
		t.Error("emergency bundle must not be a no-op")
	}
}

func TestReflexPolicy_JitterAndLossRules(t *testing.T) {
	policy := NewReflexPolicy(DefaultReflexConfig())

	jitterProp := policy.Propose(testState(1.0, 25.0, 0), NewCooldownTable(), time.Now())
	if jitterProp == nil || jitterProp.CooldownKey != KeyJitterResponse {
		t.Fatalf("jitter above 20ms should trigger %s, got %+v", KeyJitterResponse, jitterProp)
	}
	if jitterProp.Bundle.Network.PriorityQueueing == nil || !*jitterProp.Bundle.Network.PriorityQueueing {
		t.Error("jitter response should enable priority queueing")
	}

	lossProp := policy.Propose(testState(1.0, 0, 0.05), NewCooldownTable(), time.Now())
	if lossProp == nil || lossProp.CooldownKey != KeyLossResponse {
		t.Fatalf("loss above 2%% should trigger %s, got %+v", KeyLossResponse, lossProp)
	}
	if lossProp.Bundle.Network.Redundancy == nil || !*lossProp.Bundle.Network.Redundancy {
		t.Error("loss response should enable redundancy")
	}
}

func TestReflexPolicy_WidenedSamplingRespectsCeiling(t *testing.T) {
	cfg := DefaultReflexConfig()
	cfg.SamplingWidenedSec = 0.2 // above the ceiling
	policy := NewReflexPolicy(cfg)

	prop := policy.Propose(testState(1.0, 30.0, 0), NewCooldownTable(), time.Now())
	if prop == nil {
		t.Fatal("expected jitter proposal")
	}
	if *prop.Bundle.Control.SamplingPeriodSec != cfg.SamplingCeilingSec {
		t.Errorf("widened sampling must be clamped to ceiling %v, got %v",
			cfg.SamplingCeilingSec, *prop.Bundle.Control.SamplingPeriodSec)
	}
}

func TestReflexPolicy_NoRuleMatchesNoProposal(t *testing.T) {
	policy := NewReflexPolicy(DefaultReflexConfig())

	prop := policy.Propose(testState(1.5, 5.0, 0.001), NewCooldownTable(), time.Now())
	if prop != nil {
		t.Errorf("healthy state should yield no proposal, got %+v", prop)
	}
}

// TestReflexPolicy_CooldownSkipsRuleNotTable verifies that a matching
// rule whose key is cooling down is skipped while later rules still get
// their turn.
func TestReflexPolicy_CooldownSkipsRuleNotTable(t *testing.T) {
	policy := NewReflexPolicy(DefaultReflexConfig())
	cooldowns := NewCooldownTable()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	cooldowns.Arm(KeyEmergencyStabilize, base, 10*time.Second)

	// Emergency condition holds but is cooling down; jitter also holds.
	state := testState(0.1, 30.0, 0)
	prop := policy.Propose(state, cooldowns, base.Add(time.Second))
	if prop == nil {
		t.Fatal("later rules should still be evaluated when an earlier rule is cooling down")
	}
	if prop.CooldownKey != KeyJitterResponse {
		t.Errorf("expected %s while emergency cools down, got %s", KeyJitterResponse, prop.CooldownKey)
	}
}

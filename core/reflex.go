package core

import (
	"fmt"
	"math"
	"time"
)

// ReflexConfig holds the rule thresholds and the emergency action
// parameters of the reflex policy.
type ReflexConfig struct {
	// EmergencyMargin triggers the emergency_stabilize rule when the
	// stability margin drops below it. Shared constant with the recovery
	// tracker's onset threshold so the two stay consistent.
	EmergencyMargin float64 `yaml:"emergency_margin"`

	// JitterThresholdMs triggers the jitter_response rule.
	JitterThresholdMs float64 `yaml:"jitter_threshold_ms"`

	// LossThreshold triggers the loss_response rule.
	LossThreshold float64 `yaml:"loss_threshold"`

	// SamplingFloorSec is the minimum sampling period, used by the
	// emergency bundle.
	SamplingFloorSec float64 `yaml:"sampling_floor_sec"`

	// SamplingWidenedSec is the widened sampling period proposed under
	// high jitter, clamped to SamplingCeilingSec.
	SamplingWidenedSec float64 `yaml:"sampling_widened_sec"`

	// SamplingCeilingSec bounds any sampling period increase.
	SamplingCeilingSec float64 `yaml:"sampling_ceiling_sec"`

	// EmergencyLQRQ / EmergencyLQRR are the aggressive LQR weights of
	// the emergency bundle.
	EmergencyLQRQ []float64 `yaml:"emergency_lqr_q"`
	EmergencyLQRR float64   `yaml:"emergency_lqr_r"`

	// MaxDSCP is the highest-priority DiffServ codepoint (EF).
	MaxDSCP int `yaml:"max_dscp"`
}

// DefaultReflexConfig returns the thresholds matching the documented
// rule table.
func DefaultReflexConfig() ReflexConfig {
	return ReflexConfig{
		EmergencyMargin:    0.3,
		JitterThresholdMs:  20.0,
		LossThreshold:      0.02,
		SamplingFloorSec:   0.005,
		SamplingWidenedSec: 0.02,
		SamplingCeilingSec: 0.05,
		EmergencyLQRQ:      []float64{50, 5, 50, 5},
		EmergencyLQRR:      0.01,
		MaxDSCP:            46,
	}
}

// Validate returns an error if the config is invalid.
func (c ReflexConfig) Validate() error {
	if c.EmergencyMargin <= 0 || math.IsNaN(c.EmergencyMargin) {
		return fmt.Errorf("reflex.emergency_margin must be positive, got %v", c.EmergencyMargin)
	}
	if c.JitterThresholdMs <= 0 {
		return fmt.Errorf("reflex.jitter_threshold_ms must be positive, got %v", c.JitterThresholdMs)
	}
	if c.LossThreshold <= 0 || c.LossThreshold > 1 {
		return fmt.Errorf("reflex.loss_threshold must be in (0, 1], got %v", c.LossThreshold)
	}
	if c.SamplingFloorSec <= 0 || c.SamplingCeilingSec < c.SamplingFloorSec {
		return fmt.Errorf("reflex sampling bounds invalid: floor=%v ceiling=%v", c.SamplingFloorSec, c.SamplingCeilingSec)
	}
	return nil
}

// Cooldown keys of the reflex rule table.
const (
	KeyEmergencyStabilize = "emergency_stabilize"
	KeyJitterResponse     = "jitter_response"
	KeyLossResponse       = "loss_response"
)

// reflexRule is one entry of the ordered rule table. Name doubles as the
// rule's cooldown key.
type reflexRule struct {
	name    string
	matches func(SystemState) bool
	build   func(SystemState) ActionBundle
}

// ReflexPolicy is the deterministic emergency layer: a fixed-order,
// first-match-wins rule table over SystemState. Rule order is a
// behavioral contract — if two rules could match, the earlier-declared
// one takes precedence. A matching rule whose cooldown key is armed is
// skipped and evaluation continues with the next rule.
//
// Propose is a pure function of the snapshot apart from the cooldown
// read; it never mutates the table.
type ReflexPolicy struct {
	cfg   ReflexConfig
	rules []reflexRule
}

// NewReflexPolicy builds the rule table in its declared order.
func NewReflexPolicy(cfg ReflexConfig) *ReflexPolicy {
	p := &ReflexPolicy{cfg: cfg}
	p.rules = []reflexRule{
		{
			name:    KeyEmergencyStabilize,
			matches: func(s SystemState) bool { return s.StabilityMargin < cfg.EmergencyMargin },
			build:   p.emergencyBundle,
		},
		{
			name:    KeyJitterResponse,
			matches: func(s SystemState) bool { return s.JitterStdMs > cfg.JitterThresholdMs },
			build:   p.jitterBundle,
		},
		{
			name:    KeyLossResponse,
			matches: func(s SystemState) bool { return s.LossRate > cfg.LossThreshold },
			build:   p.lossBundle,
		},
	}
	return p
}

// Propose evaluates the rule table against state and returns the first
// matching rule's bundle, or nil when no rule fires.
func (p *ReflexPolicy) Propose(state SystemState, cooldowns *CooldownTable, now time.Time) *PolicyProposal {
	for _, rule := range p.rules {
		if !rule.matches(state) {
			continue
		}
		if !cooldowns.Allowed(rule.name, now) {
			continue
		}
		return &PolicyProposal{
			Source:      SourceReflex,
			Bundle:      rule.build(state),
			Priority:    100,
			CooldownKey: rule.name,
			Confidence:  1.0,
		}
	}
	return nil
}

// emergencyBundle is the full-throttle response to marginal stability:
// fastest sampling, aggressive LQR weighting, maximum network priority,
// admission control, and packet redundancy all at once.
func (p *ReflexPolicy) emergencyBundle(SystemState) ActionBundle {
	q := make([]float64, len(p.cfg.EmergencyLQRQ))
	copy(q, p.cfg.EmergencyLQRQ)
	return ActionBundle{
		Control: ControlPatch{
			SamplingPeriodSec: floatPtr(p.cfg.SamplingFloorSec),
			LQRWeightsQ:       q,
			LQRWeightR:        floatPtr(p.cfg.EmergencyLQRR),
		},
		Network: NetworkPatch{
			DSCP:             intPtr(p.cfg.MaxDSCP),
			AdmissionControl: boolPtr(true),
			Redundancy:       boolPtr(true),
		},
	}
}

// jitterBundle widens the sampling period (bounded by the ceiling) and
// turns on priority queueing so control traffic rides out the jitter.
func (p *ReflexPolicy) jitterBundle(SystemState) ActionBundle {
	widened := math.Min(p.cfg.SamplingWidenedSec, p.cfg.SamplingCeilingSec)
	return ActionBundle{
		Control: ControlPatch{
			SamplingPeriodSec: floatPtr(widened),
		},
		Network: NetworkPatch{
			PriorityQueueing: boolPtr(true),
		},
	}
}

func (p *ReflexPolicy) lossBundle(SystemState) ActionBundle {
	return ActionBundle{
		Network: NetworkPatch{
			Redundancy: boolPtr(true),
		},
	}
}

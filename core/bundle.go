package core

// ControlPatch is a set of named controller parameter overrides.
// Nil pointer fields mean "not set" — they do not override the
// controller's current value. Applying the same patch twice is safe
// (sink idempotence contract).
type ControlPatch struct {
	// SamplingPeriodSec overrides the controller's sampling period, in
	// seconds. The decision loop also re-times its own tick from this
	// value when present.
	SamplingPeriodSec *float64 `json:"sampling_period_sec,omitempty" yaml:"sampling_period_sec,omitempty"`

	// LQRWeightsQ overrides the LQR state-weight diagonal.
	LQRWeightsQ []float64 `json:"lqr_weights_q,omitempty" yaml:"lqr_weights_q,omitempty"`

	// LQRWeightR overrides the LQR control-effort weight.
	LQRWeightR *float64 `json:"lqr_weight_r,omitempty" yaml:"lqr_weight_r,omitempty"`

	// Mode switches the control law ("lqr" or "pid"). Empty means no switch.
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Empty reports whether the patch overrides nothing.
func (p ControlPatch) Empty() bool {
	return p.SamplingPeriodSec == nil && len(p.LQRWeightsQ) == 0 && p.LQRWeightR == nil && p.Mode == ""
}

// NetworkPatch is a set of named network QoS overrides, nil meaning
// "not set" as for ControlPatch.
type NetworkPatch struct {
	// DSCP sets the DiffServ codepoint for control traffic (46 = EF).
	DSCP *int `json:"dscp,omitempty" yaml:"dscp,omitempty"`

	// AdmissionControl blocks non-critical traffic when true.
	AdmissionControl *bool `json:"admission_control,omitempty" yaml:"admission_control,omitempty"`

	// Redundancy enables packet duplication for control traffic.
	Redundancy *bool `json:"redundancy,omitempty" yaml:"redundancy,omitempty"`

	// PriorityQueueing enables strict priority queueing at the edge.
	PriorityQueueing *bool `json:"priority_queueing,omitempty" yaml:"priority_queueing,omitempty"`
}

// Empty reports whether the patch overrides nothing.
func (p NetworkPatch) Empty() bool {
	return p.DSCP == nil && p.AdmissionControl == nil && p.Redundancy == nil && p.PriorityQueueing == nil
}

// ActionBundle pairs a control patch with a network patch for one
// dispatch. A bundle with both patches empty is a no-op and is only
// valid when Hold is set, which expresses "hold current configuration"
// explicitly — distinct from a policy declining to act (nil proposal).
type ActionBundle struct {
	Control ControlPatch `json:"control" yaml:"control"`
	Network NetworkPatch `json:"network" yaml:"network"`
	Hold    bool         `json:"hold,omitempty" yaml:"hold,omitempty"`
}

// IsNoop reports whether the bundle carries no overrides at all.
func (b ActionBundle) IsNoop() bool {
	return b.Control.Empty() && b.Network.Empty()
}

// PolicyProposal is a single policy's bid for this tick's dispatch.
// Each policy emits zero or one proposal per tick.
type PolicyProposal struct {
	// Source identifies the proposing policy ("reflex" or "bandit").
	Source string

	Bundle ActionBundle

	// Priority orders proposals when the arbiter has to explain a
	// decision; the reflex policy always outranks the bandit regardless.
	Priority int

	// CooldownKey names the anti-oscillation bucket this proposal
	// draws from. The arbiter arms the key on dispatch.
	CooldownKey string

	// Confidence is the proposing policy's own estimate of the
	// proposal's value; informational only.
	Confidence float64
}

// Proposal source identifiers.
const (
	SourceReflex = "reflex"
	SourceBandit = "bandit"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }

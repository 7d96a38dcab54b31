package core

// Action is one entry of the bandit's discrete action catalogue.
type Action struct {
	ID     int
	Name   string
	Bundle ActionBundle
}

// DefaultActionCatalog returns the fixed 12-action catalogue the bandit
// selects from. Action IDs are stable and double as posterior indices,
// so the order here must not change between runs of the same model.
func DefaultActionCatalog() []Action {
	return []Action{
		{ID: 0, Name: "sampling-fast", Bundle: ActionBundle{
			Control: ControlPatch{SamplingPeriodSec: floatPtr(0.005)},
		}},
		{ID: 1, Name: "sampling-slow", Bundle: ActionBundle{
			Control: ControlPatch{SamplingPeriodSec: floatPtr(0.02)},
		}},
		{ID: 2, Name: "lqr-aggressive", Bundle: ActionBundle{
			Control: ControlPatch{LQRWeightsQ: []float64{20, 2, 20, 2}, LQRWeightR: floatPtr(0.05)},
		}},
		{ID: 3, Name: "lqr-relaxed", Bundle: ActionBundle{
			Control: ControlPatch{LQRWeightsQ: []float64{5, 0.5, 5, 0.5}, LQRWeightR: floatPtr(0.2)},
		}},
		{ID: 4, Name: "dscp-high", Bundle: ActionBundle{
			Network: NetworkPatch{DSCP: intPtr(46)},
		}},
		{ID: 5, Name: "dscp-normal", Bundle: ActionBundle{
			Network: NetworkPatch{DSCP: intPtr(0)},
		}},
		{ID: 6, Name: "admission-on", Bundle: ActionBundle{
			Network: NetworkPatch{AdmissionControl: boolPtr(true)},
		}},
		{ID: 7, Name: "admission-off", Bundle: ActionBundle{
			Network: NetworkPatch{AdmissionControl: boolPtr(false)},
		}},
		{ID: 8, Name: "redundancy-on", Bundle: ActionBundle{
			Network: NetworkPatch{Redundancy: boolPtr(true)},
		}},
		{ID: 9, Name: "redundancy-off", Bundle: ActionBundle{
			Network: NetworkPatch{Redundancy: boolPtr(false)},
		}},
		{ID: 10, Name: "mode-pid", Bundle: ActionBundle{
			Control: ControlPatch{Mode: "pid"},
		}},
		{ID: 11, Name: "mode-lqr", Bundle: ActionBundle{
			Control: ControlPatch{Mode: "lqr"},
		}},
	}
}

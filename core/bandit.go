package core

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// BanditConfig holds the contextual bandit's hyperparameters and the
// reward weighting.
type BanditConfig struct {
	// Alpha scales the posterior covariance during Thompson sampling;
	// larger values explore more.
	Alpha float64 `yaml:"alpha"`

	// Lambda is the ridge prior precision; each action's covariance
	// starts as Lambda * I.
	Lambda float64 `yaml:"lambda"`

	// StaleTickBudget suspends action selection once any context field
	// has been stale for more than this many consecutive ticks. Garbage
	// context must not corrupt the learned model.
	StaleTickBudget int `yaml:"stale_tick_budget"`

	// Reward weights: reward = -(ControlCostWeight*control_cost +
	// SLOViolationWeight*slo_violation + ReconfigWeight*reconfig).
	ControlCostWeight  float64 `yaml:"control_cost_weight"`
	SLOViolationWeight float64 `yaml:"slo_violation_weight"`
	ReconfigWeight     float64 `yaml:"reconfig_weight"`

	// SLO bounds feeding the violation indicator.
	SLOLatencyMs float64 `yaml:"slo_latency_ms"`
	SLOLossRate  float64 `yaml:"slo_loss_rate"`
}

// DefaultBanditConfig returns the hyperparameters used when the config
// file leaves the bandit section out.
func DefaultBanditConfig() BanditConfig {
	return BanditConfig{
		Alpha:              0.1,
		Lambda:             1.0,
		StaleTickBudget:    3,
		ControlCostWeight:  0.1,
		SLOViolationWeight: 1.0,
		ReconfigWeight:     0.25,
		SLOLatencyMs:       50.0,
		SLOLossRate:        0.02,
	}
}

// Validate returns an error if the config is invalid.
func (c BanditConfig) Validate() error {
	if c.Alpha <= 0 || math.IsNaN(c.Alpha) {
		return fmt.Errorf("bandit.alpha must be positive, got %v", c.Alpha)
	}
	if c.Lambda <= 0 || math.IsNaN(c.Lambda) {
		return fmt.Errorf("bandit.lambda must be positive, got %v", c.Lambda)
	}
	if c.StaleTickBudget < 1 {
		return fmt.Errorf("bandit.stale_tick_budget must be >= 1, got %d", c.StaleTickBudget)
	}
	if c.ControlCostWeight < 0 || c.SLOViolationWeight < 0 || c.ReconfigWeight < 0 {
		return fmt.Errorf("bandit reward weights must be non-negative")
	}
	if c.SLOLatencyMs <= 0 {
		return fmt.Errorf("bandit.slo_latency_ms must be positive, got %v", c.SLOLatencyMs)
	}
	if c.SLOLossRate <= 0 || c.SLOLossRate > 1 {
		return fmt.Errorf("bandit.slo_loss_rate must be in (0, 1], got %v", c.SLOLossRate)
	}
	return nil
}

// selection is a chosen-but-not-yet-rewarded action together with the
// context it was chosen under.
type selection struct {
	action   int
	context  *mat.VecDense
	reconfig float64 // 1 when the action differed from the active one
}

// BanditStatistics is a read-only summary for the status API.
type BanditStatistics struct {
	Updates      int     `json:"updates"`
	TotalReward  float64 `json:"total_reward"`
	AvgReward    float64 `json:"avg_reward"`
	ActionCounts []int   `json:"action_counts"`
	ActiveAction int     `json:"active_action"`
	Disabled     bool    `json:"disabled"`
}

// BanditPolicy learns, over repeated ticks, which catalogue action
// maximizes reward in the current context, using Thompson sampling over
// a per-action linear reward model.
//
// Per tick the loop calls, in order: ObserveReward (settles the previous
// selection against the fresh snapshot), Propose (samples the posterior
// and picks the argmax action), and then exactly one of Commit (the
// arbiter dispatched the proposal) or Discard (it lost to the reflex
// policy or was held). Selections that are never committed produce no
// posterior update.
//
// The model — per-action precision matrix A and reward vector b — is
// owned exclusively by this policy. All mutation happens on the control
// loop goroutine; the mutex only guards concurrent Statistics reads from
// the status API.
type BanditPolicy struct {
	mu  sync.Mutex
	cfg BanditConfig
	rng *rand.Rand

	catalog []Action
	dim     int

	// Linear bandit sufficient statistics per action:
	// A = lambda*I + sum(x xT), b = sum(reward * x).
	prec []*mat.SymDense
	rew  []*mat.VecDense

	counts      []int
	totalReward float64
	updates     int

	pending   *selection // committed, awaiting next-tick reward
	candidate *selection // proposed this tick, not yet committed
	active    int        // last committed action, -1 before the first
	disabled  bool
}

// NewBanditPolicy creates a bandit over the given catalogue. The RNG
// should come from a PartitionedRNG so runs are reproducible.
func NewBanditPolicy(cfg BanditConfig, catalog []Action, rng *rand.Rand) *BanditPolicy {
	dim := len(stateFields) + 1 // bias term
	p := &BanditPolicy{
		cfg:     cfg,
		rng:     rng,
		catalog: catalog,
		dim:     dim,
		prec:    make([]*mat.SymDense, len(catalog)),
		rew:     make([]*mat.VecDense, len(catalog)),
		counts:  make([]int, len(catalog)),
		active:  -1,
	}
	for a := range catalog {
		prior := mat.NewSymDense(dim, nil)
		for i := 0; i < dim; i++ {
			prior.SetSym(i, i, cfg.Lambda)
		}
		p.prec[a] = prior
		p.rew[a] = mat.NewVecDense(dim, nil)
	}
	return p
}

// contextVector maps a snapshot to the bandit's context: the numeric
// state fields in canonical order plus a trailing bias term.
func (p *BanditPolicy) contextVector(state SystemState) *mat.VecDense {
	v := mat.NewVecDense(p.dim, nil)
	for i, f := range stateFields {
		v.SetVec(i, state.Value(f))
	}
	v.SetVec(p.dim-1, 1.0)
	return v
}

// contextDegraded reports whether any context field has exceeded the
// stale-tick budget.
func (p *BanditPolicy) contextDegraded(state SystemState) bool {
	for _, f := range stateFields {
		if state.StaleTicks[f] > p.cfg.StaleTickBudget {
			return true
		}
	}
	return false
}

// ObserveReward settles the pending selection against the new snapshot:
// reward = -(alpha*control_cost + beta*slo_violation + gamma*reconfig),
// then applies the rank-1 Bayesian update to the taken action's
// posterior only. Degraded context discards the pending selection
// instead of learning from it.
func (p *BanditPolicy) ObserveReward(state SystemState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disabled || p.pending == nil {
		return
	}
	if p.contextDegraded(state) {
		p.pending = nil
		return
	}

	sel := p.pending
	p.pending = nil

	violation := 0.0
	if state.LatencyP95Ms > p.cfg.SLOLatencyMs || state.LossRate > p.cfg.SLOLossRate {
		violation = 1.0
	}
	reward := -(p.cfg.ControlCostWeight*state.ControlCost +
		p.cfg.SLOViolationWeight*violation +
		p.cfg.ReconfigWeight*sel.reconfig)

	// A += x xT
	var updated mat.SymDense
	updated.SymRankOne(p.prec[sel.action], 1.0, sel.context)
	p.prec[sel.action] = &updated

	// b += reward * x
	p.rew[sel.action].AddScaledVec(p.rew[sel.action], reward, sel.context)

	p.totalReward += reward
	p.updates++
}

// Propose samples one parameter vector per action from the current
// posterior, scores every catalogue action as context · sample, and
// proposes the argmax. Floating-point ties break to the lowest action
// index, deterministically. Returns (nil, nil) when the context is
// degraded — selection is suspended rather than fed garbage — and a
// ModelCorruptionError when the posterior produces non-finite values.
func (p *BanditPolicy) Propose(state SystemState) (*PolicyProposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.candidate = nil
	if p.disabled {
		return nil, nil
	}
	if p.contextDegraded(state) {
		return nil, nil
	}

	ctx := p.contextVector(state)
	best := -1
	bestScore := math.Inf(-1)
	for a := range p.catalog {
		theta, err := p.sampleTheta(a)
		if err != nil {
			return nil, err
		}
		score := mat.Dot(ctx, theta)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, &ModelCorruptionError{Action: a, Detail: fmt.Sprintf("non-finite score %v", score)}
		}
		// Strict > keeps ties on the lowest action index.
		if score > bestScore {
			bestScore = score
			best = a
		}
	}

	reconfig := 0.0
	if p.active != -1 && best != p.active {
		reconfig = 1.0
	}
	p.candidate = &selection{action: best, context: ctx, reconfig: reconfig}

	return &PolicyProposal{
		Source:      SourceBandit,
		Bundle:      p.catalog[best].Bundle,
		Priority:    10,
		CooldownKey: "bandit_" + p.catalog[best].Name,
		Confidence:  bestScore,
	}, nil
}

// sampleTheta draws theta ~ N(A^-1 b, alpha^2 A^-1) for one action.
func (p *BanditPolicy) sampleTheta(a int) (*mat.VecDense, error) {
	var chol mat.Cholesky
	if !chol.Factorize(p.prec[a]) {
		return nil, &ModelCorruptionError{Action: a, Detail: "precision matrix not positive definite"}
	}

	mean := mat.NewVecDense(p.dim, nil)
	if err := chol.SolveVecTo(mean, p.rew[a]); err != nil {
		return nil, &ModelCorruptionError{Action: a, Detail: fmt.Sprintf("posterior mean solve: %v", err)}
	}

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, &ModelCorruptionError{Action: a, Detail: fmt.Sprintf("covariance inverse: %v", err)}
	}
	var covChol mat.Cholesky
	if !covChol.Factorize(&cov) {
		return nil, &ModelCorruptionError{Action: a, Detail: "covariance not positive definite"}
	}
	var lower mat.TriDense
	covChol.LTo(&lower)

	z := mat.NewVecDense(p.dim, nil)
	for i := 0; i < p.dim; i++ {
		z.SetVec(i, p.rng.NormFloat64())
	}
	var noise mat.VecDense
	noise.MulVec(&lower, z)

	theta := mat.NewVecDense(p.dim, nil)
	theta.AddScaledVec(mean, p.cfg.Alpha, &noise)
	for i := 0; i < p.dim; i++ {
		if v := theta.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &ModelCorruptionError{Action: a, Detail: fmt.Sprintf("non-finite theta[%d]=%v", i, v)}
		}
	}
	return theta, nil
}

// Commit records that this tick's candidate was dispatched: it becomes
// the pending selection awaiting next-tick reward and the active
// configuration for reconfiguration penalties.
func (p *BanditPolicy) Commit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidate == nil {
		return
	}
	p.pending = p.candidate
	p.active = p.candidate.action
	p.counts[p.candidate.action]++
	p.candidate = nil
}

// Discard drops this tick's candidate: the proposal lost arbitration (or
// nothing was dispatched), so the action was never taken and must not be
// rewarded. Bookkeeping for the previously committed action proceeds
// independently.
func (p *BanditPolicy) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidate = nil
}

// Disable permanently turns the policy off (reflex-only fallback after
// model corruption).
func (p *BanditPolicy) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = true
	p.pending = nil
	p.candidate = nil
}

// Disabled reports whether the policy has been turned off.
func (p *BanditPolicy) Disabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled
}

// Statistics returns a snapshot of learning progress for the status API.
func (p *BanditPolicy) Statistics() BanditStatistics {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make([]int, len(p.counts))
	copy(counts, p.counts)
	avg := 0.0
	if p.updates > 0 {
		avg = p.totalReward / float64(p.updates)
	}
	return BanditStatistics{
		Updates:      p.updates,
		TotalReward:  p.totalReward,
		AvgReward:    avg,
		ActionCounts: counts,
		ActiveAction: p.active,
		Disabled:     p.disabled,
	}
}

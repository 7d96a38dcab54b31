package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ActionEnvelope is the single combined action emitted per tick, wrapped
// with identity and provenance for ack correlation and audit logging.
type ActionEnvelope struct {
	ID          string       `json:"id"`
	Tick        int64        `json:"tick"`
	Timestamp   time.Time    `json:"timestamp"`
	Source      string       `json:"source"`
	CooldownKey string       `json:"cooldown_key"`
	Bundle      ActionBundle `json:"bundle"`
}

// Arbiter resolves the per-tick policy proposals into at most one
// ActionEnvelope. The reflex proposal always wins outright — it models
// safety-critical response and must preempt learned behavior; the losing
// bandit proposal's reward bookkeeping for the previous tick proceeds
// independently (see BanditPolicy.Discard).
//
// The arbiter owns the CooldownTable. Beyond the reflex policy's own
// self-check it re-validates the winner's cooldown key immediately
// before dispatch — the bandit does not self-enforce cooldowns — and
// arms the key when it emits an envelope.
type Arbiter struct {
	cooldowns *CooldownTable
	durations CooldownConfig
	log       *logrus.Entry
}

// NewArbiter creates an arbiter with an empty cooldown table.
func NewArbiter(durations CooldownConfig) *Arbiter {
	return &Arbiter{
		cooldowns: NewCooldownTable(),
		durations: durations,
		log:       logrus.WithField("component", "arbiter"),
	}
}

// Cooldowns exposes the shared table for the reflex policy's self-check.
// Both users run on the control-loop goroutine.
func (a *Arbiter) Cooldowns() *CooldownTable {
	return a.cooldowns
}

// Decide resolves the tick's proposals. Returns nil when nothing should
// be dispatched (hold current configuration).
func (a *Arbiter) Decide(tick int64, now time.Time, reflex, bandit *PolicyProposal) *ActionEnvelope {
	winner := reflex
	if winner == nil {
		winner = bandit
	}
	if winner == nil {
		return nil
	}
	if reflex != nil && bandit != nil {
		a.log.WithFields(logrus.Fields{
			"tick":    tick,
			"discard": bandit.CooldownKey,
			"winner":  reflex.CooldownKey,
		}).Debug("reflex proposal preempts bandit")
	}

	// A bundle empty in both patches is only dispatchable as an explicit
	// hold; anything else here is a policy bug.
	if winner.Bundle.IsNoop() && !winner.Bundle.Hold {
		a.log.WithFields(logrus.Fields{"tick": tick, "source": winner.Source}).
			Warn("dropping empty non-hold bundle")
		return nil
	}

	if !a.cooldowns.Allowed(winner.CooldownKey, now) {
		a.log.WithFields(logrus.Fields{
			"tick":   tick,
			"source": winner.Source,
			"key":    winner.CooldownKey,
		}).Debug("winning proposal suppressed by cooldown")
		return nil
	}
	a.cooldowns.Arm(winner.CooldownKey, now, a.durations.DurationFor(winner.CooldownKey))

	return &ActionEnvelope{
		ID:          uuid.NewString(),
		Tick:        tick,
		Timestamp:   now,
		Source:      winner.Source,
		CooldownKey: winner.CooldownKey,
		Bundle:      winner.Bundle,
	}
}

package core

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Loop is the single control-loop goroutine driving the per-tick
// pipeline: drain telemetry → estimate → {reflex, bandit} → arbitrate →
// dispatch. It never blocks on network I/O — dispatch is fire-and-forget
// through the Dispatcher, and acks only update bookkeeping on later
// ticks. Cancellation is cooperative at tick boundaries, so no envelope
// is ever partially dispatched.
//
// Downstream errors are all recovered locally: an incomplete state skips
// the tick, a failed dispatch is counted and at most retried by a fresh
// proposal next tick, and a corrupted bandit posterior disables the
// bandit for the remainder of the process. The loop itself never
// terminates due to any of them.
type Loop struct {
	cfg *Config

	estimator  *StateEstimator
	reflex     *ReflexPolicy
	bandit     *BanditPolicy
	arbiter    *Arbiter
	tracker    *RecoveryTracker
	dispatcher *Dispatcher
	metrics    *Metrics

	reports <-chan TelemetryReport

	tick       int64
	tickPeriod time.Duration

	// errLogLimiter keeps repeated SinkDispatchError lines from flooding
	// the log while still counting every failure in metrics.
	errLogLimiter *rate.Limiter
	log           *logrus.Entry
}

// NewLoop wires the decision core together.
func NewLoop(cfg *Config, bandit *BanditPolicy, dispatcher *Dispatcher, reports <-chan TelemetryReport) *Loop {
	return &Loop{
		cfg:           cfg,
		estimator:     NewStateEstimator(cfg.Estimator),
		reflex:        NewReflexPolicy(cfg.Reflex),
		bandit:        bandit,
		arbiter:       NewArbiter(cfg.Cooldowns),
		tracker:       NewRecoveryTracker(cfg.Recovery),
		dispatcher:    dispatcher,
		metrics:       NewMetrics(),
		reports:       reports,
		tickPeriod:    cfg.TickPeriod.Std(),
		errLogLimiter: rate.NewLimiter(rate.Every(5*time.Second), 3),
		log:           logrus.WithField("component", "loop"),
	}
}

// Metrics exposes the loop's accumulator for the status API and the
// periodic exporter.
func (l *Loop) Metrics() *Metrics { return l.metrics }

// Tracker exposes the recovery tracker for the status API.
func (l *Loop) Tracker() *RecoveryTracker { return l.tracker }

// Bandit exposes the bandit policy for the status API.
func (l *Loop) Bandit() *BanditPolicy { return l.bandit }

// Run drives ticks from a wall-clock ticker until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tickPeriod)
	defer ticker.Stop()

	l.log.WithField("tick_period", l.tickPeriod).Info("control loop started")
	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped at tick boundary")
			return nil
		case ack := <-l.dispatcher.Acks():
			l.handleAck(ack)
		case <-ticker.C:
			before := l.tickPeriod
			l.Step(time.Now())
			if l.tickPeriod != before {
				ticker.Reset(l.tickPeriod)
			}
		}
	}
}

// Step executes one control tick at the given time. Exported so replay
// mode can drive the loop from a virtual clock.
func (l *Loop) Step(now time.Time) {
	l.drainReports()
	l.drainAcks()

	state, err := l.estimator.Snapshot(now, l.tick)
	if err != nil {
		var incomplete *IncompleteStateError
		if errors.As(err, &incomplete) {
			// Fatal to this tick only: keep the last dispatched
			// configuration and report upward via metrics.
			l.metrics.RecordSkippedTick()
			l.log.WithError(err).WithField("tick", l.tick).Warn("skipping tick")
			l.tick++
			return
		}
		l.metrics.RecordSkippedTick()
		l.log.WithError(err).WithField("tick", l.tick).Error("unexpected estimator failure, skipping tick")
		l.tick++
		return
	}

	if closed := l.tracker.Observe(state.StabilityMargin, now); closed != nil {
		l.metrics.RecordRecovery(closed.MTTR())
	}

	// Reward bookkeeping for the previous bandit action proceeds before
	// and independently of this tick's arbitration.
	l.bandit.ObserveReward(state)

	reflexProp := l.reflex.Propose(state, l.arbiter.Cooldowns(), now)

	var banditProp *PolicyProposal
	if !l.bandit.Disabled() {
		prop, err := l.bandit.Propose(state)
		if err != nil {
			var corrupt *ModelCorruptionError
			if errors.As(err, &corrupt) {
				l.bandit.Disable()
				l.log.WithError(err).Error("bandit model corrupted, falling back to reflex-only operation")
			}
		} else {
			banditProp = prop
		}
	}

	env := l.arbiter.Decide(l.tick, now, reflexProp, banditProp)
	active := ""
	if env != nil {
		l.dispatcher.Dispatch(env)
		l.metrics.RecordDispatch(env.Source)
		active = env.Source
		if env.Source == SourceBandit {
			l.bandit.Commit()
		} else {
			l.bandit.Discard()
		}
		l.retime(env.Bundle.Control)
		l.log.WithFields(logrus.Fields{
			"tick":     l.tick,
			"source":   env.Source,
			"key":      env.CooldownKey,
			"envelope": env.ID,
		}).Debug("dispatched action envelope")
	} else {
		l.bandit.Discard()
	}

	l.metrics.ObserveTick(state, active)
	l.tick++
}

// retime adjusts the loop's own tick period when a dispatched control
// patch changes the sampling period, clamped to the configured bounds.
func (l *Loop) retime(patch ControlPatch) {
	if patch.SamplingPeriodSec == nil {
		return
	}
	period := time.Duration(*patch.SamplingPeriodSec * float64(time.Second))
	if min := l.cfg.MinTickPeriod.Std(); period < min {
		period = min
	}
	if max := l.cfg.MaxTickPeriod.Std(); period > max {
		period = max
	}
	if period != l.tickPeriod {
		l.log.WithField("tick_period", period).Info("re-timing control loop")
		l.tickPeriod = period
	}
}

// drainReports folds all queued telemetry into the estimator without
// blocking.
func (l *Loop) drainReports() {
	for {
		select {
		case rep := <-l.reports:
			l.estimator.Observe(rep)
		default:
			return
		}
	}
}

// drainAcks consumes queued dispatch outcomes without blocking.
func (l *Loop) drainAcks() {
	for {
		select {
		case ack := <-l.dispatcher.Acks():
			l.handleAck(ack)
		default:
			return
		}
	}
}

func (l *Loop) handleAck(ack DispatchAck) {
	if ack.Err == nil {
		return
	}
	l.metrics.RecordSinkError(ack.CooldownKey)
	if l.errLogLimiter.Allow() {
		l.log.WithError(ack.Err).WithFields(logrus.Fields{
			"tick":     ack.Tick,
			"key":      ack.CooldownKey,
			"envelope": ack.EnvelopeID,
		}).Warn("sink dispatch failed")
	}
}

package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RecoveryConfig holds the instability-onset and recovery detection
// thresholds.
type RecoveryConfig struct {
	// OnsetThreshold opens a RecoveryWindow when the stability margin
	// first drops below it. Defaults to the reflex emergency margin so
	// the two layers agree on what "unstable" means.
	OnsetThreshold float64 `yaml:"onset_threshold"`

	// RecoveryThreshold is the margin the system must hold at or above
	// to count as recovered. Kept above OnsetThreshold as hysteresis
	// against flapping.
	RecoveryThreshold float64 `yaml:"recovery_threshold"`

	// Dwell is how long the margin must stay at or above
	// RecoveryThreshold before the window closes.
	Dwell Duration `yaml:"dwell"`

	// History bounds the ring of completed recovery durations kept for
	// the mean-MTTR export.
	History int `yaml:"history"`
}

// DefaultRecoveryConfig returns the documented thresholds.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		OnsetThreshold:    0.3,
		RecoveryThreshold: 0.5,
		Dwell:             Duration(time.Second),
		History:           100,
	}
}

// Validate returns an error if the config is invalid.
func (c RecoveryConfig) Validate() error {
	if c.OnsetThreshold <= 0 {
		return fmt.Errorf("recovery.onset_threshold must be positive, got %v", c.OnsetThreshold)
	}
	if c.RecoveryThreshold < c.OnsetThreshold {
		return fmt.Errorf("recovery.recovery_threshold (%v) must be >= onset_threshold (%v)",
			c.RecoveryThreshold, c.OnsetThreshold)
	}
	if c.Dwell <= 0 {
		return fmt.Errorf("recovery.dwell must be positive, got %s", c.Dwell.Std())
	}
	if c.History < 1 {
		return fmt.Errorf("recovery.history must be >= 1, got %d", c.History)
	}
	return nil
}

// RecoveryWindow is one instability episode: opened at onset, closed
// when sustained recovery is detected. ResolutionTime is the instant the
// sustained recovery began (not when the dwell completed), so MTTR
// measures onset to first-sustained-recovery.
type RecoveryWindow struct {
	OnsetTime      time.Time `json:"onset_time"`
	ResolutionTime time.Time `json:"resolution_time,omitempty"`
	TriggerMargin  float64   `json:"trigger_margin"`
	Open           bool      `json:"open"`
}

// MTTR returns the window's recovery duration; zero while open.
func (w RecoveryWindow) MTTR() time.Duration {
	if w.Open {
		return 0
	}
	return w.ResolutionTime.Sub(w.OnsetTime)
}

type trackerState int

const (
	trackerStable trackerState = iota
	trackerDegraded
)

// RecoveryTracker is a two-state machine (STABLE, DEGRADED) over the
// stability-margin stream. At most one RecoveryWindow is open at any
// time: re-onsets while degraded preserve the original onset, so MTTR
// measures total time from the earliest instability to the first
// sustained recovery.
//
// Observe runs on the control-loop goroutine; the mutex guards
// concurrent reads from the status API.
type RecoveryTracker struct {
	mu  sync.Mutex
	cfg RecoveryConfig
	log *logrus.Entry

	state          trackerState
	window         *RecoveryWindow
	candidateSince time.Time // margin first held >= RecoveryThreshold; zero when none

	history    []time.Duration // ring of completed recovery durations
	recoveries int             // total closed windows over the process
}

// NewRecoveryTracker creates a tracker in the STABLE state.
func NewRecoveryTracker(cfg RecoveryConfig) *RecoveryTracker {
	return &RecoveryTracker{
		cfg: cfg,
		log: logrus.WithField("component", "recovery"),
	}
}

// Observe advances the state machine with one margin sample. When a
// window closes it is returned (by value); otherwise nil.
func (t *RecoveryTracker) Observe(margin float64, now time.Time) *RecoveryWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case trackerStable:
		if margin < t.cfg.OnsetThreshold {
			t.state = trackerDegraded
			t.window = &RecoveryWindow{OnsetTime: now, TriggerMargin: margin, Open: true}
			t.candidateSince = time.Time{}
			t.log.WithFields(logrus.Fields{
				"margin": margin,
				"onset":  now,
			}).Warn("instability onset detected")
		}
		return nil

	case trackerDegraded:
		if margin < t.cfg.RecoveryThreshold {
			// Recovery interrupted; the dwell restarts from scratch.
			t.candidateSince = time.Time{}
			return nil
		}
		if t.candidateSince.IsZero() {
			t.candidateSince = now
		}
		if now.Sub(t.candidateSince) < t.cfg.Dwell.Std() {
			return nil
		}

		closed := *t.window
		closed.ResolutionTime = t.candidateSince
		closed.Open = false
		t.window = nil
		t.state = trackerStable
		t.candidateSince = time.Time{}

		t.recoveries++
		t.history = append(t.history, closed.MTTR())
		if len(t.history) > t.cfg.History {
			t.history = t.history[1:]
		}
		t.log.WithFields(logrus.Fields{
			"mttr_seconds": closed.MTTR().Seconds(),
			"onset":        closed.OnsetTime,
		}).Info("recovery achieved")
		return &closed
	}
	return nil
}

// OpenWindow returns a copy of the currently open window, if any.
func (t *RecoveryTracker) OpenWindow() *RecoveryWindow {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.window == nil {
		return nil
	}
	w := *t.window
	return &w
}

// MTTR returns the mean recovery time over the retained history, zero
// when no recovery has completed yet.
func (t *RecoveryTracker) MTTR() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.history {
		sum += d
	}
	return sum / time.Duration(len(t.history))
}

// Recoveries returns the total number of closed windows.
func (t *RecoveryTracker) Recoveries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recoveries
}

// ResetHistory clears the MTTR history and recovery count without
// touching an open window.
func (t *RecoveryTracker) ResetHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = nil
	t.recoveries = 0
}

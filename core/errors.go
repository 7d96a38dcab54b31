package core

import (
	"fmt"
	"time"
)

// IncompleteStateError reports that a state snapshot could not be
// produced because a required field was never observed within the
// configured grace period. It is fatal to the tick that raised it,
// never to the control loop.
type IncompleteStateError struct {
	Field Field
	Grace time.Duration
}

func (e *IncompleteStateError) Error() string {
	return fmt.Sprintf("incomplete state: %s never observed within %s grace period", e.Field, e.Grace)
}

// SinkDispatchError reports a failed or rejected sink call. The arbiter
// never retries within the same tick; the failure is counted against the
// envelope's cooldown key and surfaced via metrics.
type SinkDispatchError struct {
	Sink string // "controller" or "network"
	Key  string // cooldown key of the failed envelope
	Err  error
}

func (e *SinkDispatchError) Error() string {
	return fmt.Sprintf("%s sink dispatch failed (key=%s): %v", e.Sink, e.Key, e.Err)
}

func (e *SinkDispatchError) Unwrap() error { return e.Err }

// ModelCorruptionError reports a non-finite value in the bandit
// posterior. The policy is disabled for the remainder of the process and
// the system falls back to reflex-only operation.
type ModelCorruptionError struct {
	Action int
	Detail string
}

func (e *ModelCorruptionError) Error() string {
	return fmt.Sprintf("bandit model corrupted at action %d: %s", e.Action, e.Detail)
}

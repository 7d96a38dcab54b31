package core

import "time"

// CooldownTable maps cooldown keys to the earliest time another
// dispatch under that key is allowed. Absent or expired keys mean
// "allowed now". Only the arbiter arms entries, immediately after a
// dispatch that used the key; the reflex policy reads the table to
// self-suppress matching rules.
//
// All reads and writes happen on the control-loop goroutine, so the
// table carries no lock.
type CooldownTable struct {
	next map[string]time.Time
}

// NewCooldownTable returns an empty table.
func NewCooldownTable() *CooldownTable {
	return &CooldownTable{next: make(map[string]time.Time)}
}

// Allowed reports whether a dispatch under key is permitted at now.
func (t *CooldownTable) Allowed(key string, now time.Time) bool {
	earliest, ok := t.next[key]
	if !ok {
		return true
	}
	if now.Before(earliest) {
		return false
	}
	// Expired entries are pruned on lookup so the table stays small.
	delete(t.next, key)
	return true
}

// Arm records that key was just used and blocks it for d.
func (t *CooldownTable) Arm(key string, now time.Time, d time.Duration) {
	t.next[key] = now.Add(d)
}

// NextAllowed returns the earliest next allowed time for key, and
// whether an entry exists.
func (t *CooldownTable) NextAllowed(key string) (time.Time, bool) {
	earliest, ok := t.next[key]
	return earliest, ok
}

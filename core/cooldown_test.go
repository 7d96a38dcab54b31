package core

import (
	"testing"
	"time"
)

func TestCooldownTable_AbsentKeyAllowed(t *testing.T) {
	table := NewCooldownTable()
	if !table.Allowed("emergency_stabilize", time.Now()) {
		t.Error("absent key should be allowed")
	}
}

func TestCooldownTable_ArmedKeyBlocksUntilExpiry(t *testing.T) {
	table := NewCooldownTable()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	table.Arm("jitter_response", base, 5*time.Second)

	if table.Allowed("jitter_response", base.Add(3*time.Second)) {
		t.Error("key should be blocked inside the cooldown window")
	}
	if !table.Allowed("jitter_response", base.Add(5*time.Second)) {
		t.Error("key should be allowed once the window expires")
	}
	// Expired entries are pruned on lookup.
	if _, ok := table.NextAllowed("jitter_response"); ok {
		t.Error("expired entry should have been pruned")
	}
}

func TestCooldownTable_KeysIndependent(t *testing.T) {
	table := NewCooldownTable()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

	table.Arm("loss_response", base, 10*time.Second)

	if !table.Allowed("emergency_stabilize", base.Add(time.Second)) {
		t.Error("arming one key must not block another")
	}
}

// Package core implements the closed-loop decision core of the
// control/network co-adaptation system.
//
// Once per control tick, the core turns raw telemetry into a canonical
// SystemState snapshot, evaluates two independent policies against it
// (a deterministic reflex rule table and a contextual linear bandit),
// arbitrates between their proposals under per-key cooldowns, and emits
// at most one ActionEnvelope to the external controller and network
// sinks. A recovery tracker watches the same state stream and reports
// time-to-recovery metrics.
//
// The plant simulators, the control-law numerics, and the packet-level
// network shaping live behind the ControllerSink / NetworkSink
// interfaces and the telemetry stream; they are not part of this
// package.
package core

// Eventfold - Idempotent Pub/Sub Event Aggregator
// Copyright 2026 Streamhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamhouse/eventfold

package consumer

// State is the consumer lifecycle position.
//
// Transitions: Serve moves Init -> Subscribed -> Running; a shutdown
// signal moves Running -> Draining, during which no new messages are
// dispatched but in-flight workers complete; when the pool quiesces,
// Draining -> Stopped releases the channel handle.
type State int32

const (
	StateInit State = iota
	StateSubscribed
	StateRunning
	StateDraining
	StateStopped
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

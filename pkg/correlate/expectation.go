package correlate

import (
	"time"

	"github.com/whatsgate/whatsgate/pkg/bus"
)

// Mode selects how an Expectation consumes matches.
type Mode int

const (
	// ModeSingle resolves on the first match and is removed.
	ModeSingle Mode = iota
	// ModeContinuous invokes OnMatch for every match until the deadline.
	ModeContinuous
)

// State tracks an Expectation through its lifecycle. Every state except
// StatePending is terminal; the registry permits exactly one transition.
type State int

const (
	StatePending State = iota
	StateMatched
	StateTimedOut
	StateSuperseded
)

// Expectation is one registered wait for a reply, scoped to a conversation
// key. The registry owns it: state and timer are only touched under the
// registry lock.
type Expectation struct {
	// Key is the normalized jid the wait is scoped to.
	Key string

	// CorrelationID, when set, is the transport id of the outbound message
	// this wait follows. It matches ahead of jid equality because it stays
	// stable across number-formatting variants.
	CorrelationID string

	Mode Mode

	// OnMatch receives each matching event. Called outside the registry lock.
	OnMatch func(ev bus.InboundEvent)

	// OnTimeout fires when the deadline elapses on a single-mode wait.
	OnTimeout func()

	// Cancelled, when non-nil, is closed on silent removal (supersession or
	// an explicit cancel) so a blocked caller can stop waiting.
	Cancelled chan struct{}

	state State
	timer *time.Timer
}

package correlate

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whatsgate/whatsgate/pkg/bus"
)

func TestRegisterSupersedesSilently(t *testing.T) {
	r := NewRegistry()

	var oldMatched, oldTimedOut atomic.Bool
	r.Register(&Expectation{
		Key:       "K",
		Mode:      ModeSingle,
		OnMatch:   func(bus.InboundEvent) { oldMatched.Store(true) },
		OnTimeout: func() { oldTimedOut.Store(true) },
	}, 30*time.Millisecond)

	got := make(chan bus.InboundEvent, 1)
	r.Register(&Expectation{
		Key:     "K",
		Mode:    ModeSingle,
		OnMatch: func(ev bus.InboundEvent) { got <- ev },
	}, time.Hour)

	require.Equal(t, 1, r.Len())

	r.Resolve("K", bus.InboundEvent{SenderID: "K", Body: "hello"})

	select {
	case ev := <-got:
		assert.Equal(t, "hello", ev.Body)
	case <-time.After(time.Second):
		t.Fatal("newer expectation was not resolved")
	}

	// Give the superseded expectation's (stopped) timer time to have fired.
	time.Sleep(80 * time.Millisecond)
	assert.False(t, oldMatched.Load(), "superseded expectation must never match")
	assert.False(t, oldTimedOut.Load(), "superseded expectation must never time out")
	assert.Equal(t, 0, r.Len())
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewRegistry()

	var matches atomic.Int32
	r.Register(&Expectation{
		Key:     "K",
		Mode:    ModeSingle,
		OnMatch: func(bus.InboundEvent) { matches.Add(1) },
	}, time.Hour)

	r.Resolve("K", bus.InboundEvent{SenderID: "K"})
	r.Resolve("K", bus.InboundEvent{SenderID: "K"})

	assert.Equal(t, int32(1), matches.Load())
	assert.Equal(t, 0, r.Len())
}

func TestMatchThenDeadlineDoesNotTimeout(t *testing.T) {
	r := NewRegistry()

	var timedOut atomic.Bool
	r.Register(&Expectation{
		Key:       "K",
		Mode:      ModeSingle,
		OnMatch:   func(bus.InboundEvent) {},
		OnTimeout: func() { timedOut.Store(true) },
	}, 30*time.Millisecond)

	r.Resolve("K", bus.InboundEvent{SenderID: "K"})

	time.Sleep(80 * time.Millisecond)
	assert.False(t, timedOut.Load(), "resolved expectation must not also time out")
}

func TestDeadlineThenMatchIsNoOp(t *testing.T) {
	r := NewRegistry()

	var matched atomic.Bool
	var timeouts atomic.Int32
	r.Register(&Expectation{
		Key:       "K",
		Mode:      ModeSingle,
		OnMatch:   func(bus.InboundEvent) { matched.Store(true) },
		OnTimeout: func() { timeouts.Add(1) },
	}, 20*time.Millisecond)

	require.Eventually(t, func() bool { return timeouts.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Len())

	r.Resolve("K", bus.InboundEvent{SenderID: "K"})
	assert.False(t, matched.Load(), "expired expectation must not match")
	assert.Equal(t, int32(1), timeouts.Load())
}

func TestCancelRemovesWithoutCallbacks(t *testing.T) {
	r := NewRegistry()

	var fired atomic.Bool
	cancelled := make(chan struct{})
	r.Register(&Expectation{
		Key:       "K",
		Mode:      ModeSingle,
		Cancelled: cancelled,
		OnMatch:   func(bus.InboundEvent) { fired.Store(true) },
		OnTimeout: func() { fired.Store(true) },
	}, 30*time.Millisecond)

	r.Cancel("K")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("Cancelled channel was not closed")
	}

	time.Sleep(80 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, r.Len())
}

func TestContinuousModeKeepsListening(t *testing.T) {
	r := NewRegistry()

	var matches atomic.Int32
	r.Register(&Expectation{
		Key:     "K",
		Mode:    ModeContinuous,
		OnMatch: func(bus.InboundEvent) { matches.Add(1) },
	}, 60*time.Millisecond)

	r.Resolve("K", bus.InboundEvent{SenderID: "K"})
	r.Resolve("K", bus.InboundEvent{SenderID: "K"})
	assert.Equal(t, int32(2), matches.Load())
	assert.Equal(t, 1, r.Len(), "continuous expectation stays active after matches")

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond,
		"deadline removes the continuous expectation")

	r.Resolve("K", bus.InboundEvent{SenderID: "K"})
	assert.Equal(t, int32(2), matches.Load())
}

func TestMatchPrefersCorrelationID(t *testing.T) {
	r := NewRegistry()
	r.Register(&Expectation{
		Key:           "15551230000@c.us",
		CorrelationID: "ABCD1234",
		Mode:          ModeSingle,
	}, time.Hour)

	// Different formatted sender, same transport id.
	key, ok := r.Match(bus.InboundEvent{
		SenderID:      "15551230009@c.us",
		CorrelationID: "ABCD1234",
	})
	require.True(t, ok)
	assert.Equal(t, "15551230000@c.us", key)
}

func TestMatchFallsBackToSenderAndAuthor(t *testing.T) {
	r := NewRegistry()
	r.Register(&Expectation{Key: "15551230000@c.us", Mode: ModeSingle}, time.Hour)

	key, ok := r.Match(bus.InboundEvent{SenderID: "15551230000@c.us", CorrelationID: "OTHER"})
	require.True(t, ok)
	assert.Equal(t, "15551230000@c.us", key)

	// Group message: sender is the group jid, author is the counterpart.
	key, ok = r.Match(bus.InboundEvent{SenderID: "group@g.us", AuthorID: "15551230000@c.us"})
	require.True(t, ok)
	assert.Equal(t, "15551230000@c.us", key)
}

func TestMatchIgnoresUnrelatedEvents(t *testing.T) {
	r := NewRegistry()
	r.Register(&Expectation{Key: "15551230000@c.us", CorrelationID: "ABCD", Mode: ModeSingle}, time.Hour)

	_, ok := r.Match(bus.InboundEvent{SenderID: "999@c.us", CorrelationID: "XYZ"})
	assert.False(t, ok)
}

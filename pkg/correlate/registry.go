package correlate

import (
	"sync"
	"time"

	"github.com/whatsgate/whatsgate/pkg/bus"
	"github.com/whatsgate/whatsgate/pkg/logger"
)

// Registry holds at most one active Expectation per conversation key. All
// lifecycle transitions go through its methods; resolve and expire are
// idempotent so a match racing a deadline settles on whichever arrives
// first.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Expectation
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Expectation)}
}

// Handle identifies one registration. Cancelling through it only ever
// touches that registration, never a newer one under the same key.
type Handle struct {
	r   *Registry
	exp *Expectation
}

// Cancel silently removes the registration if it is still active. Safe to
// call after resolution, expiry, or supersession.
func (h *Handle) Cancel() {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	if cur, ok := h.r.active[h.exp.Key]; ok && cur == h.exp {
		h.r.removeLocked(h.exp, StateSuperseded)
	}
}

// Register installs exp under exp.Key and arms its deadline. An Expectation
// already held for the key is superseded: its timer stops and it is removed
// without invoking OnMatch or OnTimeout.
func (r *Registry) Register(exp *Expectation, timeout time.Duration) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.active[exp.Key]; ok {
		r.removeLocked(old, StateSuperseded)
		logger.DebugCF("correlate", "Superseded expectation", map[string]interface{}{
			"key": exp.Key,
		})
	}

	exp.state = StatePending
	exp.timer = time.AfterFunc(timeout, func() { r.expire(exp) })
	r.active[exp.Key] = exp

	return &Handle{r: r, exp: exp}
}

// Match returns the key of the active Expectation the event satisfies, if
// any. Correlation-id equality wins over jid equality: the transport id
// stays stable when the sender jid carries a different country-code or
// linked-device form than the key.
func (r *Registry) Match(ev bus.InboundEvent) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.CorrelationID != "" {
		for key, exp := range r.active {
			if exp.CorrelationID != "" && exp.CorrelationID == ev.CorrelationID {
				return key, true
			}
		}
	}
	if ev.SenderID != "" {
		if _, ok := r.active[ev.SenderID]; ok {
			return ev.SenderID, true
		}
	}
	if ev.AuthorID != "" {
		if _, ok := r.active[ev.AuthorID]; ok {
			return ev.AuthorID, true
		}
	}
	return "", false
}

// Resolve delivers ev to the active Expectation for key. Single-mode
// expectations transition to Matched and are removed; continuous ones keep
// listening until their deadline. A key with no active Expectation (already
// resolved, expired, or superseded) is a no-op.
func (r *Registry) Resolve(key string, ev bus.InboundEvent) {
	r.mu.Lock()
	exp, ok := r.active[key]
	if !ok || exp.state != StatePending {
		r.mu.Unlock()
		return
	}
	if exp.Mode == ModeSingle {
		exp.state = StateMatched
		exp.timer.Stop()
		delete(r.active, key)
	}
	onMatch := exp.OnMatch
	r.mu.Unlock()

	if onMatch != nil {
		onMatch(ev)
	}
}

// Cancel removes the Expectation for key without invoking any callback.
func (r *Registry) Cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.active[key]; ok {
		r.removeLocked(exp, StateSuperseded)
	}
}

// Len reports the number of active expectations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// expire is the deadline path. The identity check keeps a late timer firing
// from touching a newer Expectation registered under the same key.
func (r *Registry) expire(exp *Expectation) {
	r.mu.Lock()
	cur, ok := r.active[exp.Key]
	if !ok || cur != exp || exp.state != StatePending {
		r.mu.Unlock()
		return
	}
	exp.state = StateTimedOut
	delete(r.active, exp.Key)
	onTimeout := exp.OnTimeout
	mode := exp.Mode
	r.mu.Unlock()

	if mode == ModeSingle && onTimeout != nil {
		onTimeout()
	}
}

// removeLocked silently detaches exp: timer stopped, terminal state set,
// Cancelled closed. Caller holds r.mu.
func (r *Registry) removeLocked(exp *Expectation, terminal State) {
	if exp.timer != nil {
		exp.timer.Stop()
	}
	exp.state = terminal
	delete(r.active, exp.Key)
	if exp.Cancelled != nil {
		close(exp.Cancelled)
	}
}

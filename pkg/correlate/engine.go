package correlate

import (
	"context"
	"errors"
	"time"

	"github.com/whatsgate/whatsgate/pkg/bus"
	"github.com/whatsgate/whatsgate/pkg/logger"
	"github.com/whatsgate/whatsgate/pkg/utils"
	"github.com/whatsgate/whatsgate/pkg/waclient"
)

// ErrSuperseded is returned to a blocked caller whose wait was replaced by a
// newer registration for the same conversation.
var ErrSuperseded = errors.New("wait superseded by a newer registration")

// Notifier delivers a resolved reply to an external destination. A nil reply
// marks a timed-out wait.
type Notifier interface {
	Deliver(ctx context.Context, url string, to string, reply *string) error
}

// Engine owns the registry and feeds it from the inbound event stream.
type Engine struct {
	registry       *Registry
	events         bus.Subscriber
	notifier       Notifier
	defaultTimeout time.Duration
}

func NewEngine(events bus.Subscriber, notifier Notifier, defaultTimeout time.Duration) *Engine {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Engine{
		registry:       NewRegistry(),
		events:         events,
		notifier:       notifier,
		defaultTimeout: defaultTimeout,
	}
}

// Run consumes inbound events until ctx is cancelled or the bus closes.
func (e *Engine) Run(ctx context.Context) error {
	logger.InfoC("correlate", "Reply correlation engine started")
	for {
		ev, ok := e.events.ConsumeInbound(ctx)
		if !ok {
			logger.InfoC("correlate", "Reply correlation engine stopped")
			return nil
		}
		e.evaluate(ev)
	}
}

// evaluate inspects a single event. A panic here is contained so one
// malformed event cannot stop evaluation of the ones after it.
func (e *Engine) evaluate(ev bus.InboundEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("correlate", "Recovered while evaluating event", map[string]interface{}{
				"panic":  rec,
				"sender": ev.SenderID,
			})
		}
	}()

	key, ok := e.registry.Match(ev)
	if !ok {
		return
	}
	logger.DebugCF("correlate", "Matched reply", map[string]interface{}{
		"key":  key,
		"body": utils.Truncate(ev.Body, 50),
	})
	e.registry.Resolve(key, ev)
}

// WaitForReply blocks until the next reply from to arrives or the window
// elapses; a timed-out wait returns (nil, nil). When callbackURL is set the
// resolution is additionally posted there, detached from this caller. The
// wait ends early with ErrSuperseded if a newer registration takes the key.
func (e *Engine) WaitForReply(ctx context.Context, to, correlationID, callbackURL string, timeout time.Duration) (*bus.InboundEvent, error) {
	key := waclient.NormalizeJID(to)
	got := make(chan bus.InboundEvent, 1)
	timedOut := make(chan struct{})
	cancelled := make(chan struct{})

	handle := e.registry.Register(&Expectation{
		Key:           key,
		CorrelationID: correlationID,
		Mode:          ModeSingle,
		Cancelled:     cancelled,
		OnMatch: func(ev bus.InboundEvent) {
			got <- ev
			if callbackURL != "" {
				body := ev.Body
				go e.deliver(callbackURL, key, &body)
			}
		},
		OnTimeout: func() {
			close(timedOut)
			if callbackURL != "" {
				go e.deliver(callbackURL, key, nil)
			}
		},
	}, e.window(timeout))

	select {
	case ev := <-got:
		return &ev, nil
	case <-timedOut:
		return nil, nil
	case <-cancelled:
		return nil, ErrSuperseded
	case <-ctx.Done():
		handle.Cancel()
		return nil, ctx.Err()
	}
}

// NotifyReply registers a fire-and-forget wait: the next reply from to (or a
// null marker on timeout) is posted to callbackURL. The caller returns
// immediately; delivery failures are logged only.
func (e *Engine) NotifyReply(to, correlationID, callbackURL string, timeout time.Duration) {
	key := waclient.NormalizeJID(to)

	e.registry.Register(&Expectation{
		Key:           key,
		CorrelationID: correlationID,
		Mode:          ModeSingle,
		OnMatch: func(ev bus.InboundEvent) {
			body := ev.Body
			go e.deliver(callbackURL, key, &body)
		},
		OnTimeout: func() {
			go e.deliver(callbackURL, key, nil)
		},
	}, e.window(timeout))
}

// ListenReplies invokes handler for every reply from to until the window
// elapses. Registering any other wait for the same conversation replaces the
// listener.
func (e *Engine) ListenReplies(to, correlationID string, timeout time.Duration, handler func(bus.InboundEvent)) {
	key := waclient.NormalizeJID(to)

	e.registry.Register(&Expectation{
		Key:           key,
		CorrelationID: correlationID,
		Mode:          ModeContinuous,
		OnMatch:       handler,
	}, e.window(timeout))
}

// Registry exposes the registry for introspection.
func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) window(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return e.defaultTimeout
	}
	return timeout
}

func (e *Engine) deliver(url, to string, reply *string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.notifier.Deliver(ctx, url, to, reply); err != nil {
		logger.ErrorCF("correlate", "Webhook delivery failed", map[string]interface{}{
			"url":   url,
			"to":    to,
			"error": err.Error(),
		})
	}
}

// Package eventbus is an in-process, synchronous publish/subscribe dispatcher.
//
// Handlers run on the publisher's goroutine in subscription order. A handler
// that returns an error or panics is logged and skipped; the remaining
// handlers still run. Nothing is buffered: a subscriber only sees events
// published after it subscribed.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Handler receives the published arguments.
type Handler func(ctx context.Context, args ...any) error

// FailureHook observes handler failures (for metrics).
type FailureHook func(ctx context.Context, event string, err error)

// Subscription is a handle to a registered handler.
type Subscription struct {
	ID    string
	Event string

	bus     *Bus
	handler Handler
}

// Unsubscribe detaches the handler. Calling it twice is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Bus dispatches named events to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	logger *slog.Logger
	hook   FailureHook
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFailureHook registers a callback invoked for every failed handler.
func WithFailureHook(h FailureHook) Option {
	return func(b *Bus) {
		b.hook = h
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[string][]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for event.
func (b *Bus) Subscribe(event string, h Handler) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Event:   event,
		bus:     b,
		handler: h,
	}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()
	return sub
}

// Publish calls every current subscriber of event and returns how many failed.
func (b *Bus) Publish(ctx context.Context, event string, args ...any) int {
	b.mu.RLock()
	subs := slices.Clone(b.subs[event])
	b.mu.RUnlock()

	failed := 0
	for _, sub := range subs {
		if err := b.call(ctx, sub, args); err != nil {
			failed++
			b.logger.Error("Event handler failed",
				"event", event,
				"subscription", sub.ID,
				"error", err,
			)
			if b.hook != nil {
				b.hook(ctx, event, err)
			}
		}
	}
	return failed
}

// SubscriberCount reports the number of handlers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

func (b *Bus) call(ctx context.Context, sub *Subscription, args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, args...)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.Event]
	i := slices.Index(list, sub)
	if i < 0 {
		return
	}
	list = slices.Delete(slices.Clone(list), i, i+1)
	if len(list) == 0 {
		delete(b.subs, sub.Event)
		return
	}
	b.subs[sub.Event] = list
}

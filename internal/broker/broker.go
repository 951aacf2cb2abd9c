package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arkmoor/arkmoor/internal/observe"
)

// ErrInvalidSubject is returned by Publish when the subject does not match
// any registered pattern.
var ErrInvalidSubject = errors.New("broker: invalid subject")

// Validator reports whether a concrete subject is structurally legal.
// Satisfied by the subject registry.
type Validator interface {
	Validate(subject string) bool
}

// ExternalBus is an optional cross-process forwarding path. Forward failures
// are logged and swallowed; local delivery never depends on the bus.
type ExternalBus interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
}

// Callback receives envelopes for a subscription. Callbacks run on the
// publisher's goroutine and must not block; long work belongs elsewhere.
type Callback func(env Envelope)

// Subscription is a live subscription handle. Release it with Unsubscribe.
type Subscription struct {
	id      uint64
	pattern []string
	cb      Callback
	broker  *Broker
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.broker.remove(s.id)
}

// Broker multiplexes subject subscriptions over in-process delivery.
// All methods are safe for concurrent use. Delivery is at-most-once per
// subscriber and ordered per publisher; cross-publisher ordering is not
// promised — consumers that care reconcile on Envelope.Sequence.
type Broker struct {
	validator Validator
	bus       ExternalBus
	metrics   *observe.Metrics
	seq       atomic.Uint64
	marshal   func(Envelope) ([]byte, error)

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// New creates a broker that validates subjects through v. bus may be nil,
// in which case envelopes are delivered in-process only. A nil metrics
// falls back to the process default.
func New(v Validator, bus ExternalBus, metrics *observe.Metrics) *Broker {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Broker{
		validator: v,
		bus:       bus,
		metrics:   metrics,
		subs:      make(map[uint64]*Subscription),
		marshal:   marshalEnvelope,
	}
}

// Publish validates the subject, stamps sequence and timestamp, and delivers
// env to every subscriber whose pattern matches. All matching local
// subscribers are delivered before Publish returns.
func (b *Broker) Publish(subject string, env Envelope) (Envelope, error) {
	if !b.validator.Validate(subject) {
		return Envelope{}, fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}

	start := time.Now()
	env.Subject = subject
	env.Sequence = b.seq.Add(1)
	env.Timestamp = start.UTC()

	tokens := strings.Split(subject, ".")

	b.mu.RLock()
	matched := make([]*Subscription, 0, 4)
	for _, sub := range b.subs {
		if matchSubject(sub.pattern, tokens) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.cb(env)
	}

	if b.bus != nil && b.bus.IsConnected() {
		if data, err := b.marshal(env); err != nil {
			slog.Warn("broker: marshal for external bus failed", "subject", subject, "err", err)
		} else if err := b.bus.Publish(subject, data); err != nil {
			b.metrics.BusErrors.Add(context.Background(), 1)
			slog.Warn("broker: external bus publish failed", "subject", subject, "err", err)
		}
	}
	b.metrics.RecordPublish(context.Background(), string(env.Kind), time.Since(start).Seconds())
	return env, nil
}

// Subscribe registers cb for every subject matching pattern. The pattern
// uses NATS-style tokens: "*" matches exactly one token, a trailing ">"
// matches any remaining tail.
func (b *Broker) Subscribe(pattern string, cb Callback) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		pattern: strings.Split(pattern, "."),
		cb:      cb,
		broker:  b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// matchSubject reports whether the tokenised pattern matches the tokenised
// subject. Token counts must be equal unless the pattern ends with ">".
func matchSubject(pattern, subject []string) bool {
	for i, p := range pattern {
		if p == ">" && i == len(pattern)-1 {
			return len(subject) >= i
		}
		if i >= len(subject) {
			return false
		}
		if p != "*" && p != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}

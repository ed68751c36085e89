// Package bus fans service events out to any number of subscribers.
package bus

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
)

const DefaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus over cskr/pubsub. Every call after Close is a
// no-op: the underlying pubsub blocks forever once shut down.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a bus whose subscriptions buffer up to capacity events.
func New(logger *slog.Logger, capacity int) *PubSubBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}

	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Debug("publish after close dropped", "topic", topic, "payload_type", payloadType(msg))
		return
	}
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)
}

// Subscribe returns a channel receiving events of topics. On a closed bus the
// returned channel is already closed.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		ch := make(Subscription)
		close(ch)

		return ch
	}
	b.logger.Debug("subscribe", "topics", topics)

	return b.ps.Sub(topics...)
}

// Unsubscribe removes ch from topics, or from every topic when none are given.
// The channel is closed once it has no topics left.
func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")

		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down and closes every subscription.
func (b *PubSubBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

// Listen subscribes to topics and calls handle for every event on a new
// goroutine until ctx is done or the bus is closed. Subscriptions exist when
// Listen returns. The returned channel is closed once the goroutine exits.
func Listen(ctx context.Context, b MessageBus, handle func(topic string, msg any), topics ...string) <-chan struct{} {
	subs := make([]Subscription, len(topics))
	cases := make([]reflect.SelectCase, 0, len(topics)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for i, topic := range topics {
		subs[i] = b.Subscribe(topic)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(subs[i])})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			for _, sub := range subs {
				b.Unsubscribe(sub)
			}
		}()

		for open := len(subs); open > 0; {
			chosen, value, ok := reflect.Select(cases)
			if chosen == 0 {
				return
			}
			if !ok {
				// A zero Chan disables the case.
				cases[chosen].Chan = reflect.Value{}
				open--

				continue
			}
			handle(topics[chosen-1], value.Interface())
		}
	}()

	return done
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}

	return reflect.TypeOf(v).String()
}

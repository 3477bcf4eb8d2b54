package event

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// DefaultBufferSize is the default per-subscriber channel buffer.
	DefaultBufferSize = 100
)

// Bus is an in-memory publish/subscribe hub with typed topics. Publish and
// Subscribe are package-level generic functions because Go methods cannot
// introduce type parameters; the Topic[T] value they share carries the
// payload type.
//
// Delivery is per-subscriber and never blocks the publisher: when a
// subscriber's buffer is full the event is dropped for that subscriber and
// counted in the bus stats. Close waits for in-flight publishes, then closes
// every subscriber channel.
//
// Example:
//
//	bus := event.NewBus(event.WithLogger(logger))
//	defer bus.Close()
//
//	sub, _ := event.Subscribe(bus, OrderPlaced)
//	go func() {
//	    for order := range sub.Events() {
//	        process(order)
//	    }
//	}()
//
//	_ = event.Publish(ctx, bus, OrderPlaced, Order{ID: "123"})
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	nextID uint64
	closed bool
	buffer int
	logger *slog.Logger

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

type subscriber struct {
	id      uint64
	deliver func(any) bool
	stop    func()
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the default buffer for subscriber channels.
// Default is 100. Individual subscriptions can override it with
// WithSubscriberBuffer.
func WithBufferSize(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.buffer = size
		}
	}
}

// WithLogger configures structured logging for the bus.
// Logging is disabled by default.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an in-memory typed event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string][]*subscriber),
		buffer: DefaultBufferSize,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// BusStats is a point-in-time snapshot of bus activity counters.
type BusStats struct {
	Published   int64
	Delivered   int64
	Dropped     int64
	Subscribers int
}

// Stats returns current bus counters. Dropped counts events discarded
// because a subscriber's buffer was full.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := 0
	for _, subs := range b.subs {
		n += len(subs)
	}
	b.mu.RUnlock()

	return BusStats{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close shuts down the bus. It waits for in-flight publishes to finish,
// rejects subsequent Publish and Subscribe calls, and closes every
// subscriber channel so ranging consumers terminate.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.subs = make(map[string][]*subscriber)

	b.logger.Info("event bus closed")
	return nil
}

func (b *Bus) detach(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers payload to every subscriber of topic. It never blocks on
// slow consumers; a full subscriber buffer drops the event for that
// subscriber only. Publishing to a topic with no subscribers is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, topic Topic[T], payload T) error {
	if bus == nil {
		return ErrBusNil
	}
	if topic == "" {
		return ErrTopicEmpty
	}

	bus.mu.RLock()
	defer bus.mu.RUnlock()

	if bus.closed {
		return ErrBusClosed
	}

	bus.published.Add(1)
	for _, sub := range bus.subs[string(topic)] {
		if sub.deliver(payload) {
			bus.delivered.Add(1)
			continue
		}
		bus.dropped.Add(1)
		bus.logger.WarnContext(ctx, "event dropped, subscriber buffer full",
			slog.String("topic", string(topic)),
			slog.Uint64("subscriber_id", sub.id))
	}
	return nil
}

// Subscription is a typed event stream for a single topic. The Events
// channel is closed when the subscription is cancelled or the bus shuts
// down.
type Subscription[T any] struct {
	bus   *Bus
	topic string
	id    uint64
	ch    chan T
	stop  func()
}

// Events returns the channel subscribed events arrive on.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Unsubscribe detaches the subscription from the bus and closes its channel.
// Safe to call multiple times and after the bus is closed.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.detach(s.topic, s.id)
	s.stop()
}

type subscribeOptions struct {
	buffer int
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeOptions)

// WithSubscriberBuffer overrides the bus-level buffer for one subscription.
func WithSubscriberBuffer(size int) SubscribeOption {
	return func(o *subscribeOptions) {
		if size > 0 {
			o.buffer = size
		}
	}
}

// Subscribe registers a new subscriber for topic and returns its typed
// subscription. Events published before Subscribe returns are not received.
func Subscribe[T any](bus *Bus, topic Topic[T], opts ...SubscribeOption) (*Subscription[T], error) {
	if bus == nil {
		return nil, ErrBusNil
	}
	if topic == "" {
		return nil, ErrTopicEmpty
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.closed {
		return nil, ErrBusClosed
	}

	cfg := subscribeOptions{buffer: bus.buffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	ch := make(chan T, cfg.buffer)
	var once sync.Once
	stop := func() {
		once.Do(func() { close(ch) })
	}

	bus.nextID++
	sub := &subscriber{
		id: bus.nextID,
		deliver: func(v any) bool {
			payload, ok := v.(T)
			if !ok {
				return false
			}
			select {
			case ch <- payload:
				return true
			default:
				return false
			}
		},
		stop: stop,
	}
	bus.subs[string(topic)] = append(bus.subs[string(topic)], sub)

	return &Subscription[T]{
		bus:   bus,
		topic: string(topic),
		id:    sub.id,
		ch:    ch,
		stop:  stop,
	}, nil
}

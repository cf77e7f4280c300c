// Package memory provides an in-process, best-effort event broadcaster. It
// backs the push channel and any sink that forwards job events elsewhere.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ahrav/scanq/internal/domain/events"
)

// ErrBroadcasterClosed is returned when subscribing after Close.
var ErrBroadcasterClosed = errors.New("broadcaster closed")

// Filter selects the envelopes a subscriber receives. A nil Filter receives
// everything.
type Filter func(events.EventEnvelope) bool

// ForKey returns a Filter matching envelopes published with the given key.
func ForKey(key string) Filter {
	return func(env events.EventEnvelope) bool { return env.Key == key }
}

// Broadcaster fans domain events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event and its drop counter is
// incremented. Slow subscribers never affect the publisher or each other.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	dropped atomic.Uint64
}

var _ events.DomainEventPublisher = (*Broadcaster)(nil)

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	id     uint64
	ch     chan events.EventEnvelope
	filter Filter
	b      *Broadcaster

	dropped atomic.Uint64
	once    sync.Once
	stop    atomic.Pointer[func() bool]
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan events.EventEnvelope { return s.ch }

// Dropped returns how many events this subscriber missed because its buffer
// was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close ends the subscription and closes its channel. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.b.remove(s)
		if stop := s.stop.Load(); stop != nil {
			(*stop)()
		}
	})
}

// Subscribe registers a subscriber with the given channel buffer. The
// subscription ends when ctx is done or Close is called.
func (b *Broadcaster) Subscribe(ctx context.Context, buffer int, filter Filter) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if buffer < 0 {
		buffer = 0
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBroadcasterClosed
	}
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		ch:     make(chan events.EventEnvelope, buffer),
		filter: filter,
		b:      b,
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, sub.Close)
	sub.stop.Store(&stop)
	return sub, nil
}

// remove detaches sub and closes its channel. Sends happen under the read
// lock, so no send can race the close.
func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// PublishDomainEvent delivers evt to every matching subscriber without
// blocking. It never fails; delivery is best effort.
func (b *Broadcaster) PublishDomainEvent(ctx context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	env := events.NewEnvelope(evt, opts...)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the total number of missed deliveries across subscribers.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Close ends every subscription. Later publishes are no-ops and later
// subscribes fail.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

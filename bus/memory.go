package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBus implements Bus using a bounded channel per subscription.
// The registry has its own lock; each subscription serializes its own
// enqueues independently, so fan-out never holds a global lock across
// queue operations.
type MemoryBus struct {
	name string

	mu   sync.RWMutex
	subs map[string]*memorySub

	closed    atomic.Bool
	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

type memorySub struct {
	id   string
	opts SubscribeOptions
	bus  *MemoryBus

	// enqMu serializes producers into ch so DropOldest eviction and
	// append are atomic relative to other producers.
	enqMu sync.Mutex
	ch    chan *Event

	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
}

// NewMemoryBus creates a new in-process event bus.
func NewMemoryBus(name string) *MemoryBus {
	if name == "" {
		name = "core"
	}
	return &MemoryBus{
		name: name,
		subs: make(map[string]*memorySub),
	}
}

// Publish assigns sequence and timestamp, then fans the event out to
// every open subscription whose filter matches the topic.
func (b *MemoryBus) Publish(topic string, payload map[string]any) (*Event, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	event := &Event{
		Topic:     topic,
		Payload:   payload,
		Sequence:  b.seq.Add(1),
		Timestamp: time.Now().UTC(),
	}
	b.published.Add(1)

	// Snapshot matching subscriptions so the registry lock is not held
	// during any enqueue.
	b.mu.RLock()
	matched := make([]*memorySub, 0, len(b.subs))
	for _, sub := range b.subs {
		if MatchTopic(sub.opts.Filter, topic) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	// Fast pass: non-blocking enqueue everywhere. Subscriptions under
	// the Block policy whose queue is full are collected and waited on
	// concurrently, so one stalled subscriber cannot delay the rest and
	// the publisher suspends for at most one timeout window.
	var blocked []*memorySub
	for _, sub := range matched {
		if !sub.enqueue(event) {
			blocked = append(blocked, sub)
		}
	}
	if len(blocked) > 0 {
		var wg sync.WaitGroup
		for _, sub := range blocked {
			wg.Add(1)
			go func(s *memorySub) {
				defer wg.Done()
				s.enqueueBlocking(event)
			}(sub)
		}
		wg.Wait()
	}

	return event, nil
}

// Subscribe registers a subscription ready to receive immediately.
func (b *MemoryBus) Subscribe(opts SubscribeOptions) (Subscription, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sub := &memorySub{
		id:   uuid.NewString(),
		opts: opts,
		bus:  b,
		ch:   make(chan *Event, opts.Capacity),
		done: make(chan struct{}),
	}

	// The closed check must happen under the registry lock: Close sets
	// the flag before swapping the map out, so a registration that
	// passed a bare flag check could land in the fresh map of a closed
	// bus and never be woken.
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Unsubscribe closes the subscription with the given id. Unknown ids
// are a no-op, so close is idempotent.
func (b *MemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Status returns bus counters and the live subscriber count.
func (b *MemoryBus) Status() Status {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return Status{
		Name:        b.name,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close shuts down the bus, closing every subscription.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*memorySub)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// enqueue attempts a non-blocking enqueue under the subscription's
// policy. Returns false only when the subscription uses the Block
// policy and needs the blocking phase.
func (s *memorySub) enqueue(event *Event) bool {
	if s.closed.Load() {
		// Closed subscriptions silently discard; not counted as drops.
		return true
	}

	s.enqMu.Lock()
	defer s.enqMu.Unlock()
	if s.closed.Load() {
		return true
	}

	switch s.opts.Policy {
	case DropOldest:
		for {
			select {
			case s.ch <- event:
				return true
			default:
			}
			// Evict the oldest and retry. The consumer may race us and
			// make room, in which case the eviction simply misses.
			select {
			case <-s.ch:
				s.markDropped()
			default:
			}
		}

	case Block:
		select {
		case s.ch <- event:
			return true
		default:
			return false
		}

	default: // DropNew
		select {
		case s.ch <- event:
		default:
			s.markDropped()
		}
		return true
	}
}

// enqueueBlocking waits up to BlockTimeout for queue space. On timeout
// the event is dropped for this subscription only; a concurrent close
// wakes the wait immediately.
func (s *memorySub) enqueueBlocking(event *Event) {
	timer := time.NewTimer(s.opts.BlockTimeout)
	defer timer.Stop()

	select {
	case s.ch <- event:
	case <-timer.C:
		s.markDropped()
	case <-s.done:
	}
}

func (s *memorySub) markDropped() {
	s.dropped.Add(1)
	s.bus.dropped.Add(1)
}

// ID returns the unique subscription handle.
func (s *memorySub) ID() string {
	return s.id
}

// Next returns the next buffered event, waiting up to timeout.
// A non-positive timeout behaves like TryNext.
func (s *memorySub) Next(timeout time.Duration) (*Event, error) {
	// Drain buffered events first, even after close.
	select {
	case event := <-s.ch:
		return event, nil
	default:
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		return nil, ErrEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-s.ch:
		return event, nil
	case <-timer.C:
		return nil, ErrEmpty
	case <-s.done:
		// Closed while waiting; hand over anything that raced in.
		select {
		case event := <-s.ch:
			return event, nil
		default:
			return nil, ErrClosed
		}
	}
}

// TryNext returns a buffered event without waiting.
func (s *memorySub) TryNext() (*Event, error) {
	return s.Next(0)
}

// Unsubscribe closes the subscription and removes it from the bus.
func (s *memorySub) Unsubscribe() error {
	s.bus.Unsubscribe(s.id)
	return nil
}

// Dropped returns how many events this subscription discarded.
func (s *memorySub) Dropped() uint64 {
	return s.dropped.Load()
}

// close marks the subscription closed and wakes blocked producers and
// consumers. The queue channel stays open so remaining events drain.
func (s *memorySub) close() {
	s.enqMu.Lock()
	already := s.closed.Swap(true)
	s.enqMu.Unlock()
	if already {
		return
	}
	close(s.done)
}

package events

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Bus fans out queue-change notifications to subscribers. The only payload
// is the queue name: receivers re-read the authoritative job list themselves,
// so delivery is at-least-once and duplicate notifications are harmless.
//
// Publish never blocks. Each subscriber keeps a pending set of queue names
// plus a one-slot signal channel, so a burst of publishes for the same queue
// coalesces into a single wake-up instead of flooding slow consumers.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Subscription)}
}

// Subscription is one receiver's view of the bus. Wait on Notify, then call
// Drain to collect the queues that changed since the last drain.
type Subscription struct {
	id     string
	bus    *Bus
	notify chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// Subscribe registers a new receiver.
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		bus:     b,
		notify:  make(chan struct{}, 1),
		pending: make(map[string]struct{}),
	}
	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()
	log.Printf("[events] subscriber %s registered", sub.id)
	return sub
}

// Publish records that the named queue changed and wakes every subscriber.
func (b *Bus) Publish(queue string) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(queue)
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *Subscription) deliver(queue string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending[queue] = struct{}{}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ID identifies this subscription in log lines.
func (s *Subscription) ID() string {
	return s.id
}

// Notify signals that at least one queue changed. The channel is buffered
// with one slot; consecutive publishes before a Drain collapse into one signal.
func (s *Subscription) Notify() <-chan struct{} {
	return s.notify
}

// Drain returns the queues that changed since the last call and resets the
// pending set.
func (s *Subscription) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	queues := make([]string, 0, len(s.pending))
	for q := range s.pending {
		queues = append(queues, q)
	}
	s.pending = make(map[string]struct{})
	return queues
}

// Close detaches the subscription from the bus. Safe to call more than once;
// publishes after Close are ignored.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	log.Printf("[events] subscriber %s closed", s.id)
}

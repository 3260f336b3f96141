package stream

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of broker events. Delivery is gated by
// credits: each delivered event spends one, and a consumer grants more
// with AddCredits as it drains C. An event that finds no credit, no buffer
// space, or a rejecting filter is dropped for this subscriber only.
type Subscriber struct {
	id string
	ch chan *Event

	credits atomic.Int64
	dropped atomic.Int64
	filter  func(*Event) bool

	topicsMu sync.Mutex
	topics   map[string]struct{}

	// closeMu is held for reading by send and for writing by Close, so an
	// event is never sent on a closed channel.
	closeMu sync.RWMutex
	closed  bool
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credits.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is removed
// or the broker shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits grants n more deliveries.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the remaining deliveries.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Dropped returns how many events this subscriber missed.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a predicate events must satisfy. Set it before the
// subscriber is attached to any topic.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Topics returns the subscribed topic names in sorted order.
func (s *Subscriber) Topics() []string {
	s.topicsMu.Lock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	s.topicsMu.Unlock()
	slices.Sort(out)
	return out
}

func (s *Subscriber) trackTopic(topic string, on bool) {
	s.topicsMu.Lock()
	if on {
		s.topics[topic] = struct{}{}
	} else {
		delete(s.topics, topic)
	}
	s.topicsMu.Unlock()
}

type delivery int

const (
	delivered delivery = iota
	filtered
	dropped
)

// send delivers evt without blocking and reports whether it was taken.
func (s *Subscriber) send(evt *Event) bool { return s.offer(evt) == delivered }

// offer is send with the reason an event was not taken. A filtered-out
// event is not a drop.
func (s *Subscriber) offer(evt *Event) delivery {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return filtered
	}
	if s.filter != nil && !s.filter(evt) {
		return filtered
	}
	if !s.spendCredit() {
		s.dropped.Add(1)
		return dropped
	}

	select {
	case s.ch <- evt:
		return delivered
	default:
		s.credits.Add(1)
		s.dropped.Add(1)
		return dropped
	}
}

func (s *Subscriber) spendCredit() bool {
	for {
		n := s.credits.Load()
		if n <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Close closes the event channel. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

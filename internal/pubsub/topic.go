// Package pubsub fans values out to subscribers in publish order without ever
// blocking the publisher.
package pubsub

import "sync"

// Topic delivers every published value to every current subscriber. Each
// subscriber has its own unbounded queue drained by a delivery goroutine, so a
// slow reader delays only itself.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	next   uint64
	last   *T
	closed bool
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: map[uint64]*subscriber[T]{}}
}

// Publish enqueues v for all subscribers and records it as the latest value.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.last = &v
	for _, s := range t.subs {
		s.push(v)
	}
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		var zero T
		return zero, false
	}
	return *t.last, true
}

// Subscribe returns a channel receiving values published after the call and a
// cancel function. With replay set, the latest value (if any) is delivered
// first. The channel is closed after cancel or Close.
func (t *Topic[T]) Subscribe(replay bool) (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := newSubscriber[T]()
	if t.closed {
		s.close()
		go s.run()
		return s.out, func() {}
	}
	if replay && t.last != nil {
		s.push(*t.last)
	}
	id := t.next
	t.next++
	t.subs[id] = s
	go s.run()
	return s.out, func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		s.close()
	}
}

// Subscribers returns the number of active subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends all subscriptions. Later publishes are dropped.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, s := range t.subs {
		delete(t.subs, id)
		s.close()
	}
}

type subscriber[T any] struct {
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	done   chan struct{}
	out    chan T
	closed bool
	once   sync.Once
}

func newSubscriber[T any]() *subscriber[T] {
	return &subscriber[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *subscriber[T]) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

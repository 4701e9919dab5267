// Package events dispatches domain events to subscribers. Each subscriber
// has its own mailbox and goroutine, so delivery is FIFO per subscriber and
// a slow listener never holds up Enqueue or other listeners.
package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Listener func(Event)

type Queue struct {
	logger *zap.Logger
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{
		logger: logger.With(zap.String("component", "events")),
		subs:   make(map[uint64]*subscription),
	}
}

// Subscribe registers a listener for one event type. The returned func
// removes it and discards anything still pending for it.
func (q *Queue) Subscribe(t Type, l Listener) func() {
	return q.subscribe(t, l)
}

// SubscribeAll registers a listener for every event type.
func (q *Queue) SubscribeAll(l Listener) func() {
	return q.subscribe("", l)
}

func (q *Queue) subscribe(t Type, l Listener) func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Debug("subscribe on closed queue ignored", zap.String("type", string(t)))
		return func() {}
	}

	q.nextID++
	id := q.nextID
	sub := &subscription{
		filter:   t,
		listener: l,
		wake:     make(chan struct{}, 1),
		logger:   q.logger,
	}
	q.subs[id] = sub

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		sub.run()
	}()

	return func() {
		q.mu.Lock()
		s, ok := q.subs[id]
		delete(q.subs, id)
		q.mu.Unlock()
		if ok {
			s.close(true)
		}
	}
}

// Enqueue hands the event to every matching subscriber and returns
// immediately.
func (q *Queue) Enqueue(e Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Debug("dropping event on closed queue", zap.String("type", string(e.Type())))
		return
	}
	for _, sub := range q.subs {
		if sub.filter == "" || sub.filter == e.Type() {
			sub.push(e)
		}
	}
}

// Close stops accepting events and waits until every subscriber has drained
// its mailbox or ctx is done.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	subs := make([]*subscription, 0, len(q.subs))
	for _, s := range q.subs {
		subs = append(subs, s)
	}
	q.mu.Unlock()

	for _, s := range subs {
		s.close(false)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscription struct {
	filter   Type
	listener Listener
	logger   *zap.Logger

	mu      sync.Mutex
	pending []Event
	closed  bool
	wake    chan struct{}
}

func (s *subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, e)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) close(discard bool) {
	s.mu.Lock()
	s.closed = true
	if discard {
		s.pending = nil
	}
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		e := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.deliver(e)
	}
}

func (s *subscription) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event listener panic recovered",
				zap.String("type", string(e.Type())),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	s.listener(e)
}

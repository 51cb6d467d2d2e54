package eventbus

import (
	"sync"
	"time"
)

// Event is the engine's in-memory signal. Campaign progress, session state
// flips and QR codes all flow through it so an embedding surface (socket
// server, TUI) can observe the engine without being compiled into it.
//
// Type is one of the Type* constants in events.go and Data is the matching
// payload struct, so subscribers can switch on Type and assert the payload.
// Publish never blocks; subscribers that stop draining lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no background goroutines.
func New() Bus {
	return &fanout{subs: map[uint64]*subscriber{}}
}

type fanout struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*subscriber
}

// subscriber serializes sends against close so a Publish racing an
// unsubscribe can never hit a closed channel.
type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *subscriber) offer(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		// full buffer means a stalled subscriber; dropping here keeps the
		// dispatch loop from ever waiting on an observer
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		s.offer(e)
	}
}

func (b *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	// safe to call more than once; close is guarded by the closed flag
	unsub := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.close()
	}
	return s.ch, unsub
}

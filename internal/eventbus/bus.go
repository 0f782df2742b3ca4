// Package eventbus fans tunnel events out to any number of subscribers and
// keeps a bounded history for late joiners.
package eventbus

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/tunnelscope/internal/model"
)

// DefaultHistory is the number of recent events kept when none is configured.
const DefaultHistory = 500

// Bus is a model.Emitter that delivers every event to all subscribers.
// A subscriber whose buffer is full misses the event, unless it subscribed
// with SubscribeLossless, in which case Emit waits for room.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	history []model.Event
	next    int
	full    bool

	dropped   atomic.Int64
	lastDrops atomic.Int64
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan model.Event

	ch       chan model.Event
	bus      *Bus
	lossless bool
	closing  chan struct{}
	once     sync.Once
}

// New creates a bus remembering the last history events.
func New(history int) *Bus {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		history: make([]model.Event, history),
	}
}

// Emit records e and delivers it to every subscriber.
func (b *Bus) Emit(e model.Event) {
	if e == nil {
		return
	}

	b.mu.Lock()
	b.history[b.next] = e
	b.next = (b.next + 1) % len(b.history)
	if b.next == 0 {
		b.full = true
	}
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(e)
	}
}

// Subscribe registers a subscriber with the given channel buffer.
func (b *Bus) Subscribe(buffer int) *Subscription {
	return b.subscribe(buffer, false)
}

// SubscribeLossless registers a subscriber that never misses an event.
// Emit blocks while its buffer is full, so the reader must keep draining C
// until Close.
func (b *Bus) SubscribeLossless(buffer int) *Subscription {
	return b.subscribe(buffer, true)
}

func (b *Bus) subscribe(buffer int, lossless bool) *Subscription {
	if buffer <= 0 {
		buffer = model.DefaultEventBuffer
	}
	ch := make(chan model.Event, buffer)
	s := &Subscription{C: ch, ch: ch, bus: b, lossless: lossless, closing: make(chan struct{})}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []model.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.full {
		size = len(b.history)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]model.Event, 0, n)
	start := b.next - n
	if start < 0 {
		start += len(b.history)
	}
	for i := 0; i < n; i++ {
		out = append(out, b.history[(start+i)%len(b.history)])
	}
	return out
}

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (s *Subscription) deliver(e model.Event) {
	// Close removes s under the bus write lock before closing the channel,
	// so holding the read lock here keeps the send safe.
	s.bus.mu.RLock()
	defer s.bus.mu.RUnlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	if s.lossless {
		select {
		case s.ch <- e:
		case <-s.closing:
		}
		return
	}
	select {
	case s.ch <- e:
	default:
		s.bus.logDrop()
	}
}

// Close unregisters the subscription and closes C. It is idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		// Unblocks a lossless delivery so the write lock can be taken.
		close(s.closing)
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

// logDrop logs at most once every 10 seconds.
func (b *Bus) logDrop() {
	count := b.dropped.Add(1)
	now := time.Now().Unix()
	last := b.lastDrops.Load()
	if now-last >= 10 && b.lastDrops.CompareAndSwap(last, now) {
		log.Printf("eventbus: subscriber too slow, %d events dropped so far", count)
	}
}

package broadcast

import (
	"sync"

	"github.com/mdresser/chunkorch/pkg/core"
)

// DefaultBuffer is the per-subscriber channel buffer.
const DefaultBuffer = 16

// Option configures a Broadcaster.
type Option interface {
	applyBroadcaster(*Broadcaster)
}

type optionFunc func(*Broadcaster)

func (f optionFunc) applyBroadcaster(b *Broadcaster) { f(b) }

// Buffer sets the per-subscriber channel buffer.
func Buffer(n int) Option {
	return optionFunc(func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	})
}

// Broadcaster fans progress snapshots out to the subscribers of each job's
// room. Slow subscribers never block a publisher: snapshots are dropped when
// a subscriber's buffer is full.
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string][]chan core.Snapshot
	buffer int
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		rooms:  make(map[string][]chan core.Snapshot),
		buffer: DefaultBuffer,
	}
	for _, opt := range opts {
		opt.applyBroadcaster(b)
	}
	return b
}

// Publish delivers a snapshot to every current subscriber of the job's room.
func (b *Broadcaster) Publish(jobID string, snap core.Snapshot) {
	b.mu.RLock()
	// Copy the slice so Subscribe during delivery cannot race the iteration.
	subs := make([]chan core.Snapshot, len(b.rooms[jobID]))
	copy(subs, b.rooms[jobID])
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Drop if full - this prevents blocking on slow consumers
		}
	}
}

// Subscribe joins the job's room. The returned cancel function leaves the
// room; no snapshots are delivered afterwards. The channel is not closed —
// a publish racing the removal may still hold a reference to it — so
// callers must stop reading after cancel.
func (b *Broadcaster) Subscribe(jobID string) (<-chan core.Snapshot, func()) {
	ch := make(chan core.Snapshot, b.buffer)

	b.mu.Lock()
	b.rooms[jobID] = append(b.rooms[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.rooms[jobID]
			for i, sub := range subs {
				if sub == ch {
					b.rooms[jobID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.rooms[jobID]) == 0 {
				delete(b.rooms, jobID)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers reports the current subscriber count of a room.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[jobID])
}

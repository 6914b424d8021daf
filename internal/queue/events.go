package queue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// EventType names a queue lifecycle event.
type EventType string

const (
	EventJobAdded      EventType = "job_added"
	EventJobStarted    EventType = "job_started"
	EventJobCompleted  EventType = "job_completed"
	EventJobError      EventType = "job_error"
	EventJobLog        EventType = "job_log"
	EventQueueComplete EventType = "queue_complete"
	EventProgress      EventType = "progress"
)

// Event is published after every state transition the worker or a control call makes.
type Event struct {
	Type    EventType   `json:"type"`
	JobID   string      `json:"job_id,omitempty"`
	Job     *domain.Job `json:"job,omitempty"`
	Message string      `json:"message,omitempty"`
	Level   string      `json:"level,omitempty"`
	Done    int         `json:"done,omitempty"`
	Total   int         `json:"total,omitempty"`
	Time    time.Time   `json:"time"`
}

// Bus fans events out to subscribers. A subscriber that falls behind loses events
// rather than stalling the worker.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a listener with the given buffer size. The returned
// cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were discarded because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

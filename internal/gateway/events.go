package gateway

import (
	"sync"
	"time"

	"github.com/soniclane/transcript-pipeline/internal/types"
)

// JobEvent is one state transition pushed to websocket subscribers.
type JobEvent struct {
	JobID string         `json:"job_id"`
	File  string         `json:"file"`
	State types.JobState `json:"state"`
	Error string         `json:"error,omitempty"`
	At    time.Time      `json:"at"`
}

// EventBus fans job transitions out to live subscribers. Publishing
// never blocks: a subscriber that stops draining just misses events.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan JobEvent
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan JobEvent)}
}

// Subscribe registers a listener. Call the returned cancel func to
// release it.
func (b *EventBus) Subscribe() (<-chan JobEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan JobEvent, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its
// buffer.
func (b *EventBus) Publish(event JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

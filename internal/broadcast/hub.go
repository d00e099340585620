// Package broadcast fans executor output lines out to live observers.
// Delivery is best effort: observers that cannot keep up are pruned and
// late joiners never see earlier lines.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one live output line, or the terminal marker when Done is set.
type Event struct {
	JobID  uint   `json:"job_id"`
	Line   string `json:"line,omitempty"`
	Done   bool   `json:"done,omitempty"`
	Status string `json:"status,omitempty"`
}

// Subscriber receives events for a single job.
type Subscriber struct {
	ID    uuid.UUID
	JobID uint
	Ch    chan Event
}

// Hub tracks currently registered subscribers per job id.
type Hub struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	subs   map[uint]map[*Subscriber]bool
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger: logger.With().Str("component", "broadcast").Logger(),
		subs:   make(map[uint]map[*Subscriber]bool),
	}
}

// Subscribe registers an observer for the given job.
func (h *Hub) Subscribe(jobID uint) *Subscriber {
	sub := &Subscriber{
		ID:    uuid.New(),
		JobID: jobID,
		Ch:    make(chan Event, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]bool)
		h.subs[jobID] = set
	}
	set[sub] = true

	h.logger.Debug().Str("subscriber", sub.ID.String()).Uint("job_id", jobID).Msg("Observer subscribed")
	return sub
}

// Unsubscribe removes an observer and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// Publish pushes a line to every observer of the job. Observers whose
// buffer is full are dropped from the set.
func (h *Hub) Publish(jobID uint, line string) {
	h.send(Event{JobID: jobID, Line: line})
}

// Close emits the completion marker and drops all observers of the job.
func (h *Hub) Close(jobID uint, status string) {
	h.send(Event{JobID: jobID, Done: true, Status: status})

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[jobID] {
		h.remove(sub)
	}
}

func (h *Hub) send(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.JobID] {
		select {
		case sub.Ch <- ev:
		default:
			h.logger.Debug().Str("subscriber", sub.ID.String()).Uint("job_id", ev.JobID).Msg("Observer stalled, pruning")
			h.remove(sub)
		}
	}
}

// remove expects h.mu held.
func (h *Hub) remove(sub *Subscriber) {
	set, ok := h.subs[sub.JobID]
	if !ok || !set[sub] {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.JobID)
	}
	close(sub.Ch)
}

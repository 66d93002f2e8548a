package pipeline

import (
	"sync"

	"livefeed/src/model"
)

// AuditTrail keeps the most recent events in arrival order. When full, the
// oldest event is evicted.
type AuditTrail struct {
	mu     sync.RWMutex
	cap    int
	events []model.PipelineEvent
}

func NewAuditTrail(capacity int) *AuditTrail {
	if capacity <= 0 {
		capacity = 500
	}
	return &AuditTrail{cap: capacity, events: make([]model.PipelineEvent, 0, capacity)}
}

func (a *AuditTrail) Append(e model.PipelineEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) == a.cap {
		copy(a.events, a.events[1:])
		a.events = a.events[:a.cap-1]
	}
	a.events = append(a.events, e.Copy())
}

// Recent returns up to limit of the newest events, oldest first. A limit
// of zero or less returns everything.
func (a *AuditTrail) Recent(limit int) []model.PipelineEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	start := 0
	if limit > 0 && limit < len(a.events) {
		start = len(a.events) - limit
	}
	out := make([]model.PipelineEvent, 0, len(a.events)-start)
	for _, e := range a.events[start:] {
		out = append(out, e.Copy())
	}
	return out
}

func (a *AuditTrail) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

func (a *AuditTrail) Cap() int {
	return a.cap
}

package queue

import (
	"context"
	"sync"

	"github.com/simonkvalheim/hm9-backoffice/internal/model"
)

// MemoryPublisher records published events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

// Publish records the event
func (p *MemoryPublisher) Publish(_ context.Context, event model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a copy of the recorded events
func (p *MemoryPublisher) Events() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

// Types returns the recorded event types in publish order
func (p *MemoryPublisher) Types() []model.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

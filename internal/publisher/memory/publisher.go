// Package memory is an in-process publisher for tests and single-node
// development runs.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one recorded publish call.
type Event struct {
	Topic   string
	Payload any
}

// Publisher retains published events per topic for later inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
	seq    int
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequential pseudo message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Events returns a copy of the recorded events, optionally filtered by
// topic. An empty topic returns everything.
func (p *Publisher) Events(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, 0, len(p.events))
	for _, e := range p.events {
		if topic == "" || e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

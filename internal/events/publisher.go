// Package events publishes job lifecycle notifications.
package events

import (
	"context"
	"sync"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// Noop discards events; the default when no topic is configured.
type Noop struct{}

// Publish drops the event.
func (Noop) Publish(context.Context, generator.Event) error { return nil }

// Memory retains published events for inspection in tests.
type Memory struct {
	mu     sync.Mutex
	events []generator.Event
}

// NewMemory creates an empty Memory publisher.
func NewMemory() *Memory { return &Memory{} }

// Publish appends the event.
func (m *Memory) Publish(_ context.Context, e generator.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []generator.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generator.Event(nil), m.events...)
}

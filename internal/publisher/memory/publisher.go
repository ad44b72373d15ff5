// Package memory provides an in-memory publisher for tests and local runs.
package memory

import (
	"context"
	"strconv"
	"sync"
)

// Publisher records published payloads in order.
type Publisher struct {
	mu       sync.Mutex
	messages []any
}

// New creates an empty in-memory publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the payload and returns a sequence-number id.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, payload)
	return strconv.Itoa(len(p.messages)), nil
}

// Messages returns a snapshot of published payloads.
func (p *Publisher) Messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.messages))
	copy(out, p.messages)
	return out
}

package queue

import (
	"context"
	"sync"
)

// MemoryPublisher records published envelopes. It backs the in-memory setup and tests.
type MemoryPublisher struct {
	mu   sync.Mutex
	msgs []Envelope
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, msgs ...Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (p *MemoryPublisher) Messages() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.msgs...)
}

// Package memory contains an in-process publisher for tests and dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher keeps every published payload as the JSON a broker would carry.
type Publisher struct {
	mu       sync.RWMutex
	messages [][]byte
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent Publish calls return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish marshals payload and returns a pseudo message ID.
func (p *Publisher) Publish(_ context.Context, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, data)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Len reports how many messages were published.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.messages)
}

// Decode unmarshals the i-th published message into v.
func (p *Publisher) Decode(i int, v any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.messages) {
		return fmt.Errorf("message %d out of range (have %d)", i, len(p.messages))
	}
	if err := json.Unmarshal(p.messages[i], v); err != nil {
		return fmt.Errorf("decode message %d: %w", i, err)
	}
	return nil
}

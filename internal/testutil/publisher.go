package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Published is one event captured by a Publisher.
type Published struct {
	Type string
	Data json.RawMessage
}

// Publisher records published events in memory. It satisfies
// events.Publisher.
type Publisher struct {
	mu     sync.Mutex
	events []Published
	calls  int
	failOn map[int]error
}

// NewPublisher returns an empty recorder.
func NewPublisher() *Publisher {
	return &Publisher{failOn: map[int]error{}}
}

// FailOn makes the nth call (1-based) return err without recording.
func (p *Publisher) FailOn(n int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOn[n] = err
}

// Publish records the event, or fails if this call was scripted to.
func (p *Publisher) Publish(_ context.Context, eventType string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if err, ok := p.failOn[p.calls]; ok {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("testutil publisher: %w", err)
	}
	p.events = append(p.events, Published{Type: eventType, Data: raw})
	return nil
}

// Events returns the recorded events in publish order.
func (p *Publisher) Events() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Published, len(p.events))
	copy(out, p.events)
	return out
}

// Calls counts Publish invocations, failed ones included.
func (p *Publisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Reset clears recorded events, call count and scripted failures.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.calls = 0
	p.failOn = map[int]error{}
}

// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/jonathan/role-audition/internal/llm"
)

// Response is one scripted reply.
type Response struct {
	Body string
	Err  error
}

// FakeClient replays scripted responses in order, repeating the last one.
// It records every prompt it receives.
type FakeClient struct {
	mu        sync.Mutex
	responses []Response
	prompts   []string

	// Gate, when set, blocks each call until a value is received or ctx ends.
	Gate chan struct{}
}

// NewFakeClient returns a client that answers with responses in order.
func NewFakeClient(responses ...Response) *FakeClient {
	return &FakeClient{responses: responses}
}

// Returning is shorthand for a client that always answers body.
func Returning(body string) *FakeClient {
	return NewFakeClient(Response{Body: body})
}

// Failing is shorthand for a client that always fails with err.
func Failing(err error) *FakeClient {
	return NewFakeClient(Response{Err: err})
}

// GenerateJSON implements llm.Client.
func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, _ llm.ModelTier) (string, error) {
	f.mu.Lock()
	n := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	gate := f.Gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if len(f.responses) == 0 {
		return "{}", nil
	}
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	r := f.responses[n]
	return r.Body, r.Err
}

// GetModel implements llm.Client.
func (f *FakeClient) GetModel(tier llm.ModelTier) string {
	return "fake-" + string(tier)
}

// Close implements llm.Client.
func (f *FakeClient) Close() error {
	return nil
}

// Calls returns how many generation calls were made.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// Prompts returns a copy of every prompt received.
func (f *FakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

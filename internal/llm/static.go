package llm

import (
	"context"
	"sync"
)

// Static returns canned text. It stands in for a provider in local runs and
// tests, and records the prompts it was given.
type Static struct {
	Text string
	Err  error

	mu      sync.Mutex
	prompts []string
}

func (s *Static) GenerateText(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Text, nil
}

// Probe succeeds unless Err is set.
func (s *Static) Probe(context.Context) error { return s.Err }

// Prompts returns a copy of every prompt received so far.
func (s *Static) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

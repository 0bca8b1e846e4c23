// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/pitchside-ai/pitchside/pkg/provider/llm"
)

// Provider implements llm.Provider with a scripted list of results. Each call
// consumes the next entry; calls beyond the end of the script repeat the last
// entry. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// Script is the ordered list of results to return.
	Script []Result

	// Calls counts Complete invocations.
	Calls int

	// Requests records every request passed in, in order.
	Requests []llm.CompletionRequest
}

// Result is one scripted Complete outcome.
type Result struct {
	Content string
	Err     error
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.Calls
	p.Calls++
	p.Requests = append(p.Requests, req)

	if len(p.Script) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	if i >= len(p.Script) {
		i = len(p.Script) - 1
	}
	r := p.Script[i]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// Package mock provides a scripted test double for the llm.Provider
// interface. Responses are consumed in order, so a test can model a failure
// followed by a success.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scrivia/pkg/llm"
)

// Step is one scripted outcome.
type Step struct {
	Resp *llm.Response
	Err  error
}

// Provider is a mock llm.Provider replaying scripted steps. When the script
// is exhausted the last step repeats.
type Provider struct {
	mu    sync.Mutex
	Steps []Step

	// Calls records every request in order.
	Calls []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Reply returns a provider that always succeeds with content.
func Reply(content string) *Provider {
	return &Provider{Steps: []Step{{Resp: &llm.Response{Content: content}}}}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, req)
	if len(p.Steps) == 0 {
		return &llm.Response{}, nil
	}
	i := len(p.Calls) - 1
	if i >= len(p.Steps) {
		i = len(p.Steps) - 1
	}
	step := p.Steps[i]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Resp, nil
}

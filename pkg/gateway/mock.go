// Copyright 2026 Socratic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package gateway

import (
	"context"
	"sync"
)

// MockProvider is a scripted provider for tests and dry runs. Responses are
// returned in order; when the script runs out, the last entry repeats. An
// optional GenerateFunc overrides the script entirely.
type MockProvider struct {
	// Responses is the reply script.
	Responses []string
	// Errs are returned positionally before consulting Responses; a nil
	// entry means no error for that call.
	Errs []error
	// GenerateFunc, when set, handles calls directly.
	GenerateFunc func(ctx context.Context, req Request) (*Response, error)

	mu    sync.Mutex
	calls int
}

// Name returns the provider name.
func (p *MockProvider) Name() string {
	return "mock"
}

// Calls returns how many times Generate was invoked.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Generate replays the script.
func (p *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	n := p.calls
	p.calls++
	p.mu.Unlock()

	if p.GenerateFunc != nil {
		return p.GenerateFunc(ctx, req)
	}

	if n < len(p.Errs) && p.Errs[n] != nil {
		return nil, p.Errs[n]
	}

	text := "What do you think?"
	if len(p.Responses) > 0 {
		if n >= len(p.Responses) {
			n = len(p.Responses) - 1
		}
		text = p.Responses[n]
	}

	return &Response{
		Text:      text,
		TokensIn:  estimateRequestTokens(req),
		TokensOut: EstimateTokens(text),
	}, nil
}

var _ Provider = (*MockProvider)(nil)

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

// Package gateway is the single egress point for model calls. It routes a
// model id to a provider adapter, applies per-attempt timeouts, retries
// transient failures with jittered exponential backoff, and normalizes
// responses (text, token usage, latency) across providers.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/observability"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of conversation history sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a normalized generation request.
type Request struct {
	ModelID     string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is a normalized generation response. TokensIn/TokensOut come
// from the provider when reported and are estimated otherwise.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	LatencyMs int64
	Provider  string
}

// Provider adapts one upstream model API to the normalized request shape.
type Provider interface {
	// Name identifies the provider, e.g. "anthropic".
	Name() string
	// Generate performs a single model call. The context carries the
	// per-attempt deadline; providers must honor it.
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Default gateway settings. Five attempts means an initial call plus four
// retries, with backoff sleeps of 2s, 4s, 8s, and 16s between them.
const (
	DefaultAttemptTimeout = 60 * time.Second
	DefaultMaxAttempts    = 5
)

// Config configures a Gateway.
type Config struct {
	// AttemptTimeout bounds each provider call; defaults to 60s.
	AttemptTimeout time.Duration
	// MaxAttempts is the total attempt budget per request; defaults to 5.
	MaxAttempts int

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Gateway routes model ids to providers and wraps calls with retry.
// All methods are safe for concurrent use.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]Provider

	attemptTimeout time.Duration
	maxAttempts    int

	tracer observability.Tracer
	logger *zap.Logger
}

// New creates an empty gateway; register models with Register.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Gateway{
		providers:      make(map[string]Provider),
		attemptTimeout: cfg.AttemptTimeout,
		maxAttempts:    cfg.MaxAttempts,
		tracer:         cfg.Tracer,
		logger:         cfg.Logger,
	}
}

// Register binds modelID to a provider, replacing any previous binding.
func (g *Gateway) Register(modelID string, p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[modelID] = p
}

// Models returns the registered model ids.
func (g *Gateway) Models() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.providers))
	for id := range g.providers {
		ids = append(ids, id)
	}
	return ids
}

// Generate routes the request to its provider and retries transient
// failures. Unknown models fail immediately with ErrUnknownModel; exhausted
// retries return the last error wrapped in ErrExhausted.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Response, error) {
	g.mu.RLock()
	provider, ok := g.providers[req.ModelID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, req.ModelID)
	}

	var span *observability.Span
	if g.tracer != nil {
		ctx, span = g.tracer.StartSpan(ctx, observability.SpanGatewayGenerate)
		defer g.tracer.EndSpan(span)
		span.SetAttribute("model_id", req.ModelID)
		span.SetAttribute("provider", provider.Name())
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
		start := time.Now()
		resp, err := provider.Generate(attemptCtx, req)
		cancel()

		if err == nil {
			resp.Provider = provider.Name()
			resp.LatencyMs = time.Since(start).Milliseconds()
			if resp.TokensIn == 0 {
				resp.TokensIn = estimateRequestTokens(req)
			}
			if resp.TokensOut == 0 {
				resp.TokensOut = EstimateTokens(resp.Text)
			}
			if span != nil {
				span.SetAttribute("attempts", attempt)
				span.SetAttribute("tokens_out", resp.TokensOut)
			}
			return resp, nil
		}

		lastErr = err
		if !IsTransient(err) {
			if span != nil {
				span.RecordError(err)
			}
			return nil, err
		}

		g.logger.Warn("transient model call failure",
			zap.String("model_id", req.ModelID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < g.maxAttempts {
			select {
			case <-time.After(backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if span != nil {
		span.RecordError(lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, g.maxAttempts, lastErr)
}

func estimateRequestTokens(req Request) int {
	n := EstimateTokens(req.System)
	for _, m := range req.Messages {
		n += EstimateTokens(m.Content)
	}
	return n
}

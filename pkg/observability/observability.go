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

// Package observability provides a minimal tracing seam for the benchmark
// pipeline. Queue operations, store writes, gateway calls, and handler
// executions are instrumented through the Tracer interface; the default
// implementation is a no-op so tests and small deployments pay nothing.
package observability

import (
	"context"
	"time"
)

// Span names used across the pipeline.
const (
	SpanGatewayGenerate = "gateway.generate"
	SpanQueueEnqueue    = "queue.enqueue"
	SpanQueueReceive    = "queue.receive"
	SpanQueueDelete     = "queue.delete"
	SpanPlannerPlan     = "planner.plan"
	SpanRunnerDialogue  = "runner.dialogue"
	SpanJudgeTurn       = "judge.turn"
	SpanCuratorRun      = "curator.run"
)

// StatusCode represents the final status of a span.
type StatusCode int

const (
	// StatusUnset indicates status was not explicitly set.
	StatusUnset StatusCode = iota
	// StatusOK indicates successful completion.
	StatusOK
	// StatusError indicates an error occurred.
	StatusError
)

// Status represents the final status of a span with optional message.
type Status struct {
	Code    StatusCode
	Message string
}

// Span represents a unit of work with timing and metadata.
// Spans form a tree structure via ParentID references.
type Span struct {
	TraceID  string
	SpanID   string
	ParentID string

	Name       string
	Attributes map[string]interface{}

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Status Status
}

// SetAttribute sets a key-value attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]interface{})
	}
	s.Attributes[key] = value
}

// RecordError records an error on the span and sets an error status.
func (s *Span) RecordError(err error) {
	if err == nil {
		return
	}
	s.Status = Status{Code: StatusError, Message: err.Error()}
	s.SetAttribute("error", true)
	s.SetAttribute("error.message", err.Error())
}

// Tracer instruments pipeline operations.
//
// Thread-safe: all methods can be called concurrently.
type Tracer interface {
	// StartSpan creates a new span and returns a context containing it.
	// The span is linked to its parent via context propagation.
	StartSpan(ctx context.Context, name string) (context.Context, *Span)

	// EndSpan completes a span and calculates its duration.
	// Always call this via defer after StartSpan.
	EndSpan(span *Span)

	// RecordMetric records a point-in-time metric value with labels.
	RecordMetric(name string, value float64, labels map[string]string)

	// Flush forces export of buffered data; called on graceful shutdown.
	Flush(ctx context.Context) error
}

// SpanFromContext retrieves the current span from context, if any.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(spanContextKey).(*Span); ok {
		return span
	}
	return nil
}

// ContextWithSpan returns a new context with the span attached.
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanContextKey, span)
}

type contextKey string

const spanContextKey contextKey = "socbench.span"

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
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrUnknownModel is returned for model ids with no registered provider.
// It is terminal: retrying cannot help, and dialogue handlers fail the run
// instead of redelivering.
var ErrUnknownModel = errors.New("gateway: unknown model")

// ErrExhausted wraps the last transient error once the full attempt budget
// is spent. Handlers match it with errors.Is to tell "the gateway gave up"
// apart from "one attempt failed", and fail the run instead of redelivering.
var ErrExhausted = errors.New("gateway: retry budget exhausted")

// retryablePatterns are error message fragments that indicate a transient
// upstream condition. Provider SDKs do not share error types, so message
// matching is the common denominator.
var retryablePatterns = []string{
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"status 529",
	"too many requests",
	"rate limit",
	"overloaded",
	"throttl",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"service unavailable",
	"internal server error",
	"eof",
}

// IsTransient reports whether err is worth retrying: network faults,
// upstream throttling and 5xx responses, and per-attempt deadline expiry.
// Parent-context cancellation is not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	// A per-attempt deadline firing means the upstream was slow, not
	// broken; the next attempt gets a fresh deadline.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 16 * time.Second
)

// backoff returns the sleep before retrying after the given attempt:
// 2s, 4s, 8s, 16s, with up to 20% jitter to decorrelate workers.
func backoff(attempt int) time.Duration {
	d := time.Duration(float64(baseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}

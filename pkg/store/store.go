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

// Package store provides the pipeline's two persistence tiers: a keyed kv
// store with conditional writes (the idempotency backbone) and an object
// store for full payloads. Both tiers have small interfaces with sqlite,
// postgres, and filesystem implementations.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no item exists at the requested key.
	ErrNotFound = errors.New("store: item not found")

	// ErrConditionFailed is returned when a conditional write loses: the
	// item already exists (PutIfAbsent) or its version moved underneath
	// the caller (UpdateIfVersion). Callers re-read and retry.
	ErrConditionFailed = errors.New("store: condition failed")
)

// Item is one kv record. Body is a JSON document; Version advances by one
// on every successful write and anchors optimistic concurrency. The ModelID,
// ManifestID, and Week columns are denormalized for index queries only; the
// body remains the source of truth.
type Item struct {
	Partition string
	Sort      string
	Body      []byte
	Version   int64

	ModelID    string
	ManifestID string
	Week       string

	UpdatedAt time.Time
}

// KV is the conditional-write key-value store. Items are addressed by a
// (partition, sort) pair and ordered by sort key within a partition.
//
// Thread-safe: all methods can be called concurrently.
type KV interface {
	// Put writes item unconditionally, creating it at version 1 or
	// replacing the existing body and bumping the version.
	Put(ctx context.Context, item Item) error

	// PutIfAbsent creates item at version 1 only if no item exists at its
	// key. Returns ErrConditionFailed if one does.
	PutIfAbsent(ctx context.Context, item Item) error

	// Get returns the item at (partition, sort), or ErrNotFound.
	Get(ctx context.Context, partition, sort string) (*Item, error)

	// UpdateIfVersion replaces the item's body only if its stored version
	// equals expected, bumping the version on success. Returns
	// ErrConditionFailed if the version moved or the item is gone.
	UpdateIfVersion(ctx context.Context, item Item, expected int64) error

	// QueryPrefix returns all items in partition whose sort key starts
	// with sortPrefix, ordered by sort key. An empty prefix returns the
	// whole partition.
	QueryPrefix(ctx context.Context, partition, sortPrefix string) ([]Item, error)

	// QueryByManifest returns all items carrying manifestID whose sort key
	// starts with sortPrefix, using the manifest index.
	QueryByManifest(ctx context.Context, manifestID, sortPrefix string) ([]Item, error)

	// QueryByWeek returns all items carrying the week label whose sort key
	// starts with sortPrefix, using the week index.
	QueryByWeek(ctx context.Context, week, sortPrefix string) ([]Item, error)

	// Close releases the underlying connection pool.
	Close() error
}

// ObjectStore holds full payloads under deterministic keys. Writes are
// idempotent: retrying a write with byte-equivalent content converges on
// the same object.
type ObjectStore interface {
	// Put writes body at key, replacing any existing object atomically.
	Put(ctx context.Context, key string, body []byte) error

	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

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
package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *SQLiteKV {
	t.Helper()
	kv, err := NewSQLiteKV(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestSQLiteKVPutGet(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	item := Item{
		Partition:  "RUN#abc",
		Sort:       "META",
		Body:       []byte(`{"status":"queued"}`),
		ModelID:    "model-a",
		ManifestID: "manifest-1",
		Week:       "2026-W35",
	}
	require.NoError(t, kv.Put(ctx, item))

	got, err := kv.Get(ctx, "RUN#abc", "META")
	require.NoError(t, err)
	assert.Equal(t, item.Body, got.Body)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "model-a", got.ModelID)

	// Unconditional replace bumps the version.
	item.Body = []byte(`{"status":"running"}`)
	require.NoError(t, kv.Put(ctx, item))
	got, err = kv.Get(ctx, "RUN#abc", "META")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestSQLiteKVGetNotFound(t *testing.T) {
	kv := newTestKV(t)
	_, err := kv.Get(context.Background(), "RUN#missing", "META")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteKVPutIfAbsent(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	item := Item{Partition: "RUN#abc", Sort: "TURN#000", Body: []byte("first")}
	require.NoError(t, kv.PutIfAbsent(ctx, item))

	item.Body = []byte("second")
	err := kv.PutIfAbsent(ctx, item)
	assert.ErrorIs(t, err, ErrConditionFailed)

	// The stored copy wins.
	got, err := kv.Get(ctx, "RUN#abc", "TURN#000")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got.Body)
}

func TestSQLiteKVUpdateIfVersion(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	item := Item{Partition: "RUN#abc", Sort: "META", Body: []byte("v1")}
	require.NoError(t, kv.PutIfAbsent(ctx, item))

	item.Body = []byte("v2")
	require.NoError(t, kv.UpdateIfVersion(ctx, item, 1))

	// A second writer holding the stale version loses.
	item.Body = []byte("stale")
	err := kv.UpdateIfVersion(ctx, item, 1)
	assert.ErrorIs(t, err, ErrConditionFailed)

	got, err := kv.Get(ctx, "RUN#abc", "META")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Body)
	assert.Equal(t, int64(2), got.Version)

	// Updating a missing item also fails the condition.
	missing := Item{Partition: "RUN#other", Sort: "META", Body: []byte("x")}
	assert.ErrorIs(t, kv.UpdateIfVersion(ctx, missing, 1), ErrConditionFailed)
}

func TestSQLiteKVQueryPrefix(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	for _, sort := range []string{"META", "TURN#000", "TURN#001", "TURN#002", "JUDGE#000"} {
		require.NoError(t, kv.PutIfAbsent(ctx, Item{
			Partition: "RUN#abc", Sort: sort, Body: []byte(sort),
		}))
	}

	turns, err := kv.QueryPrefix(ctx, "RUN#abc", "TURN#")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "TURN#000", turns[0].Sort)
	assert.Equal(t, "TURN#002", turns[2].Sort)

	all, err := kv.QueryPrefix(ctx, "RUN#abc", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	none, err := kv.QueryPrefix(ctx, "RUN#other", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteKVQueryByManifest(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	for i, runID := range []string{"run-1", "run-2"} {
		require.NoError(t, kv.PutIfAbsent(ctx, Item{
			Partition:  "RUN#" + runID,
			Sort:       "META",
			Body:       []byte{byte(i)},
			ManifestID: "manifest-1",
		}))
	}
	require.NoError(t, kv.PutIfAbsent(ctx, Item{
		Partition: "RUN#run-3", Sort: "META", Body: []byte("x"), ManifestID: "manifest-2",
	}))

	items, err := kv.QueryByManifest(ctx, "manifest-1", "META")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSQLiteKVQueryByWeek(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.PutIfAbsent(ctx, Item{
		Partition: "WEEK#2026-W35#MODEL#a", Sort: "SUMMARY", Body: []byte("a"), Week: "2026-W35",
	}))
	require.NoError(t, kv.PutIfAbsent(ctx, Item{
		Partition: "WEEK#2026-W35#MODEL#b", Sort: "SUMMARY", Body: []byte("b"), Week: "2026-W35",
	}))
	require.NoError(t, kv.PutIfAbsent(ctx, Item{
		Partition: "WEEK#2026-W36#MODEL#a", Sort: "SUMMARY", Body: []byte("c"), Week: "2026-W36",
	}))

	items, err := kv.QueryByWeek(ctx, "2026-W35", "SUMMARY")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

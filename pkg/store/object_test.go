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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSObjectStoreRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "plain"
		if compress {
			name = "gzip"
		}
		t.Run(name, func(t *testing.T) {
			s, err := NewFSObjectStore(FSObjectConfig{Root: t.TempDir(), Compress: compress})
			require.NoError(t, err)
			ctx := context.Background()

			body := []byte(`{"turn_index": 0, "tutor_response": "What do you think?"}`)
			key := "raw/runs/run-1/turn_000.json"
			require.NoError(t, s.Put(ctx, key, body))

			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, body, got)

			// Replay with the same bytes overwrites in place.
			require.NoError(t, s.Put(ctx, key, body))
			got, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, body, got)
		})
	}
}

func TestFSObjectStoreGetNotFound(t *testing.T) {
	s, err := NewFSObjectStore(FSObjectConfig{Root: t.TempDir()})
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "missing/key.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSObjectStoreList(t *testing.T) {
	s, err := NewFSObjectStore(FSObjectConfig{Root: t.TempDir(), Compress: true})
	require.NoError(t, err)
	ctx := context.Background()

	keys := []string{
		"raw/runs/run-1/turn_000.json",
		"raw/runs/run-1/turn_001.json",
		"raw/runs/run-2/turn_000.json",
		"curated/runs/run-1.json",
	}
	for _, k := range keys {
		require.NoError(t, s.Put(ctx, k, []byte(k)))
	}

	got, err := s.List(ctx, "raw/runs/run-1/")
	require.NoError(t, err)
	// The gz suffix is invisible to listings.
	assert.Equal(t, []string{
		"raw/runs/run-1/turn_000.json",
		"raw/runs/run-1/turn_001.json",
	}, got)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestFSObjectStoreRejectsBadKeys(t *testing.T) {
	s, err := NewFSObjectStore(FSObjectConfig{Root: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"", "/absolute", "a/../escape"} {
		assert.Error(t, s.Put(ctx, key, []byte("x")), "key %q", key)
	}
}

func TestFSObjectStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFSObjectStore(FSObjectConfig{Root: root})
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "a/b.json", []byte("x")))

	entries, err := os.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "b.json", entries[0].Name())
}

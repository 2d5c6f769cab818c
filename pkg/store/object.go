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
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// FSObjectConfig configures the filesystem object store.
type FSObjectConfig struct {
	// Root is the directory all objects live under.
	Root string
	// Compress gzips object bodies on disk. Compression is transparent to
	// readers and deterministic, so retried writes stay byte-equivalent.
	Compress bool
}

// FSObjectStore implements ObjectStore on a local directory. Writes go to a
// temp file in the target directory and rename into place, so readers never
// observe partial objects and replays overwrite atomically.
type FSObjectStore struct {
	root     string
	compress bool
}

// NewFSObjectStore creates the root directory if needed.
func NewFSObjectStore(cfg FSObjectConfig) (*FSObjectStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("object store root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object root: %w", err)
	}
	return &FSObjectStore{root: cfg.Root, compress: cfg.Compress}, nil
}

const gzSuffix = ".gz"

func (s *FSObjectStore) path(key string) string {
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if s.compress {
		p += gzSuffix
	}
	return p
}

// Put writes body at key via temp file and rename.
func (s *FSObjectStore) Put(ctx context.Context, key string, body []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	data := body
	if s.compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("failed to compress object: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress object: %w", err)
		}
		data = buf.Bytes()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

// Get returns the object at key.
func (s *FSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	if s.compress {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress object: %w", err)
		}
		defer zr.Close()
		body, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress object: %w", err)
		}
		return body, nil
	}
	return data, nil
}

// List returns all keys under prefix, sorted.
func (s *FSObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if s.compress {
			key = strings.TrimSuffix(key, gzSuffix)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// validKey rejects keys that would escape the root.
func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	return nil
}

var _ ObjectStore = (*FSObjectStore)(nil)

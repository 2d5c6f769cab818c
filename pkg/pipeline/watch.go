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
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigWatcher re-plans when the benchmark config file changes. Planning
// is idempotent, so an edited config mid-week only adds the runs the new
// config introduces; existing runs are untouched.
type ConfigWatcher struct {
	planner *Planner
	path    string
	logger  *zap.Logger

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// debounceDelay coalesces editor write bursts into one planning pass.
const debounceDelay = 500 * time.Millisecond

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(planner *Planner, path string, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename,
	// which drops a direct file watch.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &ConfigWatcher{
		planner: planner,
		path:    path,
		logger:  logger,
		watcher: w,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching; call Stop to shut down.
func (c *ConfigWatcher) Start() {
	c.wg.Add(1)
	go c.loop()
	c.logger.Info("config watcher started", zap.String("path", c.path))
}

// Stop closes the watcher and waits for the loop to exit.
func (c *ConfigWatcher) Stop() {
	close(c.stopCh)
	c.watcher.Close()
	c.wg.Wait()
}

func (c *ConfigWatcher) loop() {
	defer c.wg.Done()

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-c.stopCh:
			return

		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				debounce.Reset(debounceDelay)
			}
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			c.replan()

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (c *ConfigWatcher) replan() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		c.logger.Error("failed to read benchmark config",
			zap.String("path", c.path),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := c.planner.Plan(ctx, raw, "")
	if err != nil {
		c.logger.Error("config-change planning failed", zap.Error(err))
		return
	}
	c.logger.Info("config change planned",
		zap.String("manifest_id", result.Manifest.ManifestID),
		zap.Int("runs_created", result.RunsCreated))
}

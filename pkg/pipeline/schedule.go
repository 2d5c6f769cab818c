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
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronSpec plans every Monday at 06:00. Because planning is
// idempotent, a missed or doubled firing is harmless.
const DefaultCronSpec = "0 6 * * 1"

// Scheduler triggers a weekly planning pass on a cron schedule.
type Scheduler struct {
	planner    *Planner
	configPath string
	spec       string
	logger     *zap.Logger

	cron *cron.Cron
}

// NewScheduler creates a scheduler reading the benchmark config from
// configPath on every firing. An empty spec uses DefaultCronSpec.
func NewScheduler(planner *Planner, configPath, spec string, logger *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultCronSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		planner:    planner,
		configPath: configPath,
		spec:       spec,
		logger:     logger,
	}
}

// Start registers the cron entry and begins scheduling.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, s.plan); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop stops scheduling and waits for a running planning pass to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) plan() {
	raw, err := os.ReadFile(s.configPath)
	if err != nil {
		s.logger.Error("failed to read benchmark config",
			zap.String("path", s.configPath),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.planner.Plan(ctx, raw, "")
	if err != nil {
		s.logger.Error("scheduled planning failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled planning complete",
		zap.String("manifest_id", result.Manifest.ManifestID),
		zap.Int("runs_created", result.RunsCreated))
}

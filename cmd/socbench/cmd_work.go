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
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/internal/log"
	"github.com/socratic-labs/socbench/pkg/pipeline"
)

var (
	workPlanNow bool
	workWatch   bool
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the benchmark worker process",
	Long: `Work starts the full pipeline: the dialogue, judge, and curator worker
pools, the weekly planner cron, and (optionally) a watcher that re-plans
whenever the benchmark config file changes. It runs until interrupted and
drains in-flight handlers on shutdown.`,
	RunE: runWork,
}

func init() {
	workCmd.Flags().BoolVar(&workPlanNow, "plan-now", false, "run one planning pass on startup")
	workCmd.Flags().BoolVar(&workWatch, "watch", true, "re-plan when the benchmark config file changes")
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	logger := log.Logger()

	raw, benchCfg, err := loadBenchmarkConfig()
	if err != nil {
		return err
	}

	kv, err := openKV()
	if err != nil {
		return err
	}
	defer kv.Close()
	objects, err := openObjects()
	if err != nil {
		return err
	}
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()
	g, err := buildGateway(cmd.Context(), benchCfg)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		KV:      kv,
		Objects: objects,
		Bus:     b,
		Gateway: g,
		Logger:  logger,
	}

	planner := pipeline.NewPlanner(deps)
	workers := pipeline.NewWorkers(deps)
	scheduler := pipeline.NewScheduler(planner, config.Benchmark.ConfigPath, config.Benchmark.Cron, logger)

	if workPlanNow {
		result, err := planner.Plan(cmd.Context(), raw, "")
		if err != nil {
			return err
		}
		logger.Info("startup planning complete",
			zap.String("manifest_id", result.Manifest.ManifestID),
			zap.Int("runs_created", result.RunsCreated),
			zap.Int("runs_existing", result.RunsExisting))
	}

	workers.Start()
	if err := scheduler.Start(); err != nil {
		workers.Stop()
		return err
	}

	var watcher *pipeline.ConfigWatcher
	if workWatch {
		watcher, err = pipeline.NewConfigWatcher(planner, config.Benchmark.ConfigPath, logger)
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		} else {
			watcher.Start()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))

	if watcher != nil {
		watcher.Stop()
	}
	scheduler.Stop()
	workers.Stop()
	return nil
}

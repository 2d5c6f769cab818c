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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/socratic-labs/socbench/internal/log"
	"github.com/socratic-labs/socbench/pkg/pipeline"
)

var planWeek string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan one benchmark week now",
	Long: `Plan validates the benchmark config, freezes the week's manifest, creates
the missing run items, and enqueues their dialogue jobs. Planning is
idempotent: re-running the same config and week is a no-op for work that
already exists.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planWeek, "week", "", "ISO week label, e.g. 2026-W35 (default: current week)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	raw, _, err := loadBenchmarkConfig()
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

	planner := pipeline.NewPlanner(pipeline.Deps{
		KV:      kv,
		Objects: objects,
		Bus:     b,
		Logger:  log.Logger(),
	})

	result, err := planner.Plan(cmd.Context(), raw, planWeek)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

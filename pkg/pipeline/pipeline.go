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

// Package pipeline orchestrates the benchmark: the planner freezes weekly
// manifests and fans out runs, the runner drives dialogues, the judge scores
// turns, and the curator folds judged runs into summaries and rollups. All
// stages are crash-safe: every externally visible write is conditional or
// byte-deterministic, so at-least-once delivery converges to exactly-once
// effects.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
	"github.com/socratic-labs/socbench/pkg/gateway"
	"github.com/socratic-labs/socbench/pkg/observability"
	"github.com/socratic-labs/socbench/pkg/scenarios"
	"github.com/socratic-labs/socbench/pkg/store"
)

// Worker and visibility budgets.
const (
	DialogueWorkers = 25
	JudgeWorkers    = 25
	CuratorWorkers  = 10

	DialogueVisibility = 15 * time.Minute
	JudgeVisibility    = 5 * time.Minute
	CuratorVisibility  = 5 * time.Minute

	// occRetries bounds optimistic-concurrency loops on the run item and
	// the weekly rollup. Losing more than this in a row means something is
	// pathologically hot; the message redelivers instead of spinning.
	occRetries = 10
)

// Deps are the shared dependencies of every pipeline stage.
type Deps struct {
	KV      store.KV
	Objects store.ObjectStore
	Bus     *bus.Bus
	Gateway *gateway.Gateway

	// Policy plays the student side for scenarios that declare the
	// simulated policy; scripted scenarios always play their script.
	// Defaults to the deterministic scripted policy.
	Policy scenarios.ReplyPolicy

	Tracer observability.Tracer
	Logger *zap.Logger

	// Now allows tests to pin time; defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Policy == nil {
		d.Policy = scenarios.ScriptedPolicy{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// DialogueJob is the payload on the dialogue-jobs queue, one per run.
type DialogueJob struct {
	RunID      string          `json:"run_id"`
	ManifestID string          `json:"manifest_id"`
	Week       string          `json:"week"`
	Model      bench.ModelSpec `json:"model"`
	ScenarioID string          `json:"scenario_id"`
	MaxTurns   int             `json:"max_turns"`
	JudgeModel string          `json:"judge_model"`
}

// JudgeJob is the payload on the judge-jobs queue, one per recorded turn.
type JudgeJob struct {
	RunID      string `json:"run_id"`
	TurnIndex  int    `json:"turn_index"`
	JudgeModel string `json:"judge_model"`
}

// RunJudgedEvent announces that every recorded turn of a run has a judge
// record. Emitted exactly once per run, by the writer whose versioned
// update committed completion.
type RunJudgedEvent struct {
	RunID      string    `json:"run_id"`
	ManifestID string    `json:"manifest_id"`
	Week       string    `json:"week"`
	ModelID    string    `json:"model_id"`
	JudgedAt   time.Time `json:"judged_at"`
}

// judgeJobID builds the dedupe id for a judge job message.
func judgeJobID(runID string, turnIndex int) string {
	return fmt.Sprintf("%s#%03d", runID, turnIndex)
}

// updateRun applies mutate to the run item inside a bounded
// optimistic-concurrency loop.
func updateRun(ctx context.Context, deps Deps, runID string, mutate func(*bench.Run)) (*bench.Run, error) {
	for attempt := 0; attempt < occRetries; attempt++ {
		item, err := deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		run, err := loadRun(item)
		if err != nil {
			return nil, err
		}

		mutate(run)

		next, err := runItem(run)
		if err != nil {
			return nil, err
		}
		err = deps.KV.UpdateIfVersion(ctx, next, item.Version)
		if errors.Is(err, store.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to update run %s: %w", runID, err)
		}
		return run, nil
	}
	return nil, fmt.Errorf("run %s: gave up after %d contended updates", runID, occRetries)
}

// commitJudged folds turnIndex into the run's judged set (skip with -1) and,
// when judging is done, flips CompletionCommitted in the same versioned
// write. The returned event is non-nil only for the write that performed
// the transition, which is what makes run-judged a one-shot signal.
func commitJudged(ctx context.Context, deps Deps, runID string, turnIndex int) (*RunJudgedEvent, *bench.Run, error) {
	for attempt := 0; attempt < occRetries; attempt++ {
		item, err := deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortMeta)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		run, err := loadRun(item)
		if err != nil {
			return nil, nil, err
		}

		changed := false
		if turnIndex >= 0 && !run.HasJudgedTurn(turnIndex) {
			run.JudgedTurns = append(run.JudgedTurns, turnIndex)
			sort.Ints(run.JudgedTurns)
			run.NTurnsJudged = len(run.JudgedTurns)
			changed = true
		}

		var event *RunJudgedEvent
		if run.JudgingDone() && !run.CompletionCommitted {
			run.CompletionCommitted = true
			// JudgedAt is set only by the committing update, so it marks
			// when the run's judging finished rather than the last fold.
			now := deps.Now().UTC()
			run.JudgedAt = &now
			if run.Status == bench.RunRecording {
				run.Status = bench.RunCompleted
			}
			event = &RunJudgedEvent{
				RunID:      run.RunID,
				ManifestID: run.ManifestID,
				Week:       run.Week,
				ModelID:    run.ModelID,
				JudgedAt:   now,
			}
			changed = true
		}

		if !changed {
			return nil, run, nil
		}

		next, err := runItem(run)
		if err != nil {
			return nil, nil, err
		}
		err = deps.KV.UpdateIfVersion(ctx, next, item.Version)
		if errors.Is(err, store.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to update run %s: %w", runID, err)
		}
		return event, run, nil
	}
	return nil, nil, fmt.Errorf("run %s: gave up after %d contended updates", runID, occRetries)
}

// publishRunJudged enqueues the run-judged event, deduped by run id.
func publishRunJudged(ctx context.Context, deps Deps, run *bench.Run) error {
	event := RunJudgedEvent{
		RunID:      run.RunID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
		ModelID:    run.ModelID,
	}
	if run.JudgedAt != nil {
		event.JudgedAt = *run.JudgedAt
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode run-judged event: %w", err)
	}
	return deps.Bus.Enqueue(ctx, bus.QueueRunJudged, run.RunID, payload)
}

// loadRun reads and decodes the run item, returning its version for OCC.
func loadRun(item *store.Item) (*bench.Run, error) {
	var run bench.Run
	if err := json.Unmarshal(item.Body, &run); err != nil {
		return nil, fmt.Errorf("failed to decode run %s/%s: %w", item.Partition, item.Sort, err)
	}
	return &run, nil
}

// runItem encodes a run back into its kv item shape.
func runItem(run *bench.Run) (store.Item, error) {
	body, err := json.Marshal(run)
	if err != nil {
		return store.Item{}, fmt.Errorf("failed to encode run %s: %w", run.RunID, err)
	}
	return store.Item{
		Partition:  bench.RunPartition(run.RunID),
		Sort:       bench.SortMeta,
		Body:       body,
		ModelID:    run.ModelID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
	}, nil
}

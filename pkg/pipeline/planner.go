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
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
	"github.com/socratic-labs/socbench/pkg/observability"
	"github.com/socratic-labs/socbench/pkg/scenarios"
	"github.com/socratic-labs/socbench/pkg/store"
)

// Planner freezes weekly manifests and fans runs out onto the dialogue
// queue. Planning is idempotent: the manifest id is a content hash, run
// creation uses conditional puts, and job publishing dedupes on run id, so
// running Plan any number of times for the same config and week changes
// nothing after the first. A pass that finds the manifest already frozen
// still walks the whole grid, which repairs a fan-out a previous pass left
// unfinished.
type Planner struct {
	deps Deps
}

// NewPlanner creates a planner.
func NewPlanner(deps Deps) *Planner {
	deps.defaults()
	return &Planner{deps: deps}
}

// PlanResult reports what one planning pass did.
type PlanResult struct {
	Manifest     *bench.Manifest `json:"manifest"`
	RunsCreated  int             `json:"runs_created"`
	RunsExisting int             `json:"runs_existing"`
	JobsEnqueued int             `json:"jobs_enqueued"`
}

// Plan validates rawConfig, freezes the manifest for week, creates the
// missing run items, and publishes their dialogue jobs. An empty week
// defaults to the current ISO week.
func (p *Planner) Plan(ctx context.Context, rawConfig []byte, week string) (*PlanResult, error) {
	var span *observability.Span
	if p.deps.Tracer != nil {
		ctx, span = p.deps.Tracer.StartSpan(ctx, observability.SpanPlannerPlan)
		defer p.deps.Tracer.EndSpan(span)
	}

	cfg, err := bench.ParseConfig(rawConfig)
	if err != nil {
		return nil, err
	}
	if err := scenarios.Validate(cfg.Scenarios); err != nil {
		return nil, err
	}

	canonical, err := bench.Canonicalize(rawConfig)
	if err != nil {
		return nil, err
	}

	now := p.deps.Now()
	if week == "" {
		week = bench.WeekLabel(now)
	}
	if !bench.ValidWeekLabel(week) {
		return nil, fmt.Errorf("invalid week label %q", week)
	}

	manifest := bench.BuildManifest(cfg, canonical, week, now)
	if span != nil {
		span.SetAttribute("manifest_id", manifest.ManifestID)
		span.SetAttribute("week", week)
	}

	stored, err := p.freezeManifest(ctx, manifest)
	if err != nil {
		return nil, err
	}
	manifest = stored

	result := &PlanResult{Manifest: manifest}
	for _, model := range manifest.Models {
		for _, scenarioID := range manifest.Scenarios {
			created, err := p.planRun(ctx, manifest, model, scenarioID)
			if err != nil {
				return nil, err
			}
			if created {
				result.RunsCreated++
			} else {
				result.RunsExisting++
			}
			result.JobsEnqueued++
		}
	}

	p.deps.Logger.Info("planning pass complete",
		zap.String("manifest_id", manifest.ManifestID),
		zap.String("week", manifest.Week),
		zap.Int("runs_created", result.RunsCreated),
		zap.Int("runs_existing", result.RunsExisting))

	return result, nil
}

// freezeManifest writes the manifest item and object. If the manifest
// already exists, the stored copy wins so replays stay byte-identical.
func (p *Planner) freezeManifest(ctx context.Context, manifest *bench.Manifest) (*bench.Manifest, error) {
	body, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	item := store.Item{
		Partition:  bench.ManifestPartition(manifest.ManifestID),
		Sort:       bench.SortMeta,
		Body:       body,
		ManifestID: manifest.ManifestID,
		Week:       manifest.Week,
	}

	err = p.deps.KV.PutIfAbsent(ctx, item)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConditionFailed):
		existing, err := p.deps.KV.Get(ctx, item.Partition, item.Sort)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing manifest: %w", err)
		}
		body = existing.Body
		var stored bench.Manifest
		if err := json.Unmarshal(body, &stored); err != nil {
			return nil, fmt.Errorf("failed to decode existing manifest: %w", err)
		}
		manifest = &stored
	default:
		return nil, fmt.Errorf("failed to freeze manifest: %w", err)
	}

	if err := p.deps.Objects.Put(ctx, bench.ManifestObjectKey(manifest.ManifestID), body); err != nil {
		return nil, fmt.Errorf("failed to write manifest object: %w", err)
	}
	return manifest, nil
}

// planRun creates the run item if absent and (re-)publishes its dialogue
// job. The bus dedupes the publish by run id.
func (p *Planner) planRun(ctx context.Context, manifest *bench.Manifest, model bench.ModelSpec, scenarioID string) (bool, error) {
	runID := bench.RunID(manifest.ManifestID, model.ModelID, scenarioID)

	run := &bench.Run{
		RunID:         runID,
		ManifestID:    manifest.ManifestID,
		Week:          manifest.Week,
		ModelID:       model.ModelID,
		ScenarioID:    scenarioID,
		Status:        bench.RunQueued,
		NTurnsPlanned: manifest.MaxTurns,
		CreatedAt:     p.deps.Now().UTC(),
	}
	item, err := runItem(run)
	if err != nil {
		return false, err
	}

	created := true
	if err := p.deps.KV.PutIfAbsent(ctx, item); err != nil {
		if !errors.Is(err, store.ErrConditionFailed) {
			return false, fmt.Errorf("failed to create run %s: %w", runID, err)
		}
		created = false
	}

	job := DialogueJob{
		RunID:      runID,
		ManifestID: manifest.ManifestID,
		Week:       manifest.Week,
		Model:      model,
		ScenarioID: scenarioID,
		MaxTurns:   manifest.MaxTurns,
		JudgeModel: manifest.JudgeModel,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("failed to encode dialogue job: %w", err)
	}
	if err := p.deps.Bus.Enqueue(ctx, bus.QueueDialogueJobs, runID, payload); err != nil {
		return false, fmt.Errorf("failed to enqueue dialogue job: %w", err)
	}
	return created, nil
}

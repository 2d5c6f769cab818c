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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
	"github.com/socratic-labs/socbench/pkg/store"
)

func TestPlanIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.plan(t, testConfig)
	assert.Equal(t, 1, first.RunsCreated)
	assert.Equal(t, 0, first.RunsExisting)
	assert.Equal(t, 1, first.JobsEnqueued)
	assert.Equal(t, testWeek, first.Manifest.Week)

	second := env.plan(t, testConfig)
	assert.Equal(t, 0, second.RunsCreated)
	assert.Equal(t, 1, second.RunsExisting)
	assert.Equal(t, first.Manifest.ManifestID, second.Manifest.ManifestID)

	// The bus dedupes the re-published job.
	assert.Equal(t, 1, env.depth(t, bus.QueueDialogueJobs))

	// The manifest is frozen in both tiers.
	_, err := env.deps.KV.Get(ctx, bench.ManifestPartition(first.Manifest.ManifestID), bench.SortMeta)
	require.NoError(t, err)
	_, err = env.deps.Objects.Get(ctx, bench.ManifestObjectKey(first.Manifest.ManifestID))
	require.NoError(t, err)
}

func TestPlanCreatesQueuedRuns(t *testing.T) {
	env := newTestEnv(t)
	result := env.plan(t, testConfig)

	runID := bench.RunID(result.Manifest.ManifestID, "tutor-model", "EL-MATH-INDUCT-01")
	run := env.loadRun(t, runID)
	assert.Equal(t, bench.RunQueued, run.Status)
	assert.Equal(t, 2, run.NTurnsPlanned)
	assert.Equal(t, 0, run.NTurnsRecorded)
	assert.Equal(t, testWeek, run.Week)
	assert.Equal(t, "EL-MATH-INDUCT-01", run.ScenarioID)
}

func TestPlanFansOutModelScenarioGrid(t *testing.T) {
	env := newTestEnv(t)
	result := env.plan(t, twoScenarioConfig)

	assert.Equal(t, 2, result.RunsCreated)
	assert.Equal(t, 2, result.JobsEnqueued)
	assert.Equal(t, 2, result.Manifest.RunCount())
	assert.Equal(t, 2, env.depth(t, bus.QueueDialogueJobs))
}

func TestPlanSeparateWeeksCreateSeparateRuns(t *testing.T) {
	env := newTestEnv(t)
	planner := NewPlanner(env.deps)
	ctx := context.Background()

	a, err := planner.Plan(ctx, []byte(testConfig), "2026-W35")
	require.NoError(t, err)
	b, err := planner.Plan(ctx, []byte(testConfig), "2026-W36")
	require.NoError(t, err)

	assert.NotEqual(t, a.Manifest.ManifestID, b.Manifest.ManifestID)
	assert.Equal(t, 1, b.RunsCreated)
	assert.Equal(t, 2, env.depth(t, bus.QueueDialogueJobs))
}

func TestPlanDefaultsToCurrentWeek(t *testing.T) {
	env := newTestEnv(t)
	result, err := NewPlanner(env.deps).Plan(context.Background(), []byte(testConfig), "")
	require.NoError(t, err)
	assert.Equal(t, testWeek, result.Manifest.Week)
}

func TestPlanRepairsPartialFanOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Freeze the manifest by hand, as if a previous pass crashed between
	// the manifest put and the run fan-out.
	cfg, err := bench.ParseConfig([]byte(testConfig))
	require.NoError(t, err)
	canonical, err := bench.Canonicalize([]byte(testConfig))
	require.NoError(t, err)
	manifest := bench.BuildManifest(cfg, canonical, testWeek, env.deps.Now())
	body, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, env.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition:  bench.ManifestPartition(manifest.ManifestID),
		Sort:       bench.SortMeta,
		Body:       body,
		ManifestID: manifest.ManifestID,
		Week:       testWeek,
	}))

	// Planning again must fan the missing runs out rather than stop at the
	// existing manifest.
	result := env.plan(t, testConfig)
	assert.Equal(t, manifest.ManifestID, result.Manifest.ManifestID)
	assert.Equal(t, 1, result.RunsCreated)
	assert.Equal(t, 0, result.RunsExisting)
	assert.Equal(t, 1, env.depth(t, bus.QueueDialogueJobs))
}

func TestPlanRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	planner := NewPlanner(env.deps)
	ctx := context.Background()

	_, err := planner.Plan(ctx, []byte("not json"), testWeek)
	assert.Error(t, err)

	unknownScenario := `{
	  "models": [{"model_id": "tutor-model", "provider": "mock"}],
	  "scenarios": ["NO-SUCH-SCENARIO"],
	  "parameters": {"max_turns": 2, "judge_model": "judge-model"}
	}`
	_, err = planner.Plan(ctx, []byte(unknownScenario), testWeek)
	assert.Error(t, err)

	_, err = planner.Plan(ctx, []byte(testConfig), "week-35")
	assert.Error(t, err)
}

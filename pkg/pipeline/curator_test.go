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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
)

func loadRollup(t *testing.T, env *testEnv, week, modelID string) *bench.WeeklyRollup {
	t.Helper()
	item, err := env.deps.KV.Get(context.Background(), bench.RollupPartition(week, modelID), bench.SortSummary)
	require.NoError(t, err)
	var rollup bench.WeeklyRollup
	require.NoError(t, json.Unmarshal(item.Body, &rollup))
	return &rollup
}

func TestHandleRunJudgedDerivesSummaryAndRollup(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)
	ctx := context.Background()

	handled := env.drain(t, bus.QueueRunJudged, NewCurator(env.deps).HandleRunJudged)
	require.Equal(t, 1, handled)

	item, err := env.deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortSummary)
	require.NoError(t, err)
	var summary bench.RunSummary
	require.NoError(t, json.Unmarshal(item.Body, &summary))
	assert.Equal(t, 2, summary.NTurnsJudged)
	assert.Equal(t, 0, summary.NTurnsFailed)
	assert.InDelta(t, 0.6, summary.MeanOverall, 1e-9)
	// Both turns clear the 0.30 compliance bar.
	assert.InDelta(t, 1.0, summary.ComplianceRate, 1e-9)
	// Overall 0.6 sits below the 0.80 discipline threshold from turn 0.
	assert.Equal(t, 0, summary.HalfLife)
	assert.Zero(t, summary.ViolationRates[bench.ViolationAdvice])
	assert.Zero(t, summary.ViolationRates[bench.ViolationClosed])

	rollup := loadRollup(t, env, testWeek, "tutor-model")
	assert.Equal(t, 1, rollup.RunCount)
	assert.Equal(t, []string{runID}, rollup.RunIDs)
	assert.InDelta(t, 0.6, rollup.MeanOverall, 1e-9)

	// Both aggregates are mirrored to the object store.
	_, err = env.deps.Objects.Get(ctx, bench.RunSummaryKey(runID))
	require.NoError(t, err)
	_, err = env.deps.Objects.Get(ctx, bench.WeeklyRollupKey(testWeek, "tutor-model"))
	require.NoError(t, err)
}

func TestHandleRunJudgedRedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)
	curator := NewCurator(env.deps)
	ctx := context.Background()

	env.drain(t, bus.QueueRunJudged, curator.HandleRunJudged)
	summaryBefore, err := env.deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortSummary)
	require.NoError(t, err)

	run := env.loadRun(t, runID)
	payload, err := json.Marshal(RunJudgedEvent{
		RunID:      run.RunID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
		ModelID:    run.ModelID,
	})
	require.NoError(t, err)
	require.NoError(t, curator.HandleRunJudged(ctx, &bus.Message{
		ID:           run.RunID,
		Body:         payload,
		ReceiveCount: 2,
	}))

	// The stored summary bytes win and the rollup does not double-count.
	summaryAfter, err := env.deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortSummary)
	require.NoError(t, err)
	assert.Equal(t, summaryBefore.Body, summaryAfter.Body)
	assert.Equal(t, summaryBefore.Version, summaryAfter.Version)

	rollup := loadRollup(t, env, testWeek, "tutor-model")
	assert.Equal(t, 1, rollup.RunCount)
}

func TestHandleRunJudgedRequiresCommittedRun(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	ctx := context.Background()

	// No judging happened yet, so the event outran the commit.
	run := env.loadRun(t, runID)
	payload, err := json.Marshal(RunJudgedEvent{
		RunID:      run.RunID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
		ModelID:    run.ModelID,
	})
	require.NoError(t, err)

	err = NewCurator(env.deps).HandleRunJudged(ctx, &bus.Message{
		ID:           run.RunID,
		Body:         payload,
		ReceiveCount: 1,
	})
	assert.ErrorContains(t, err, "not yet committed")
}

func TestHandleRunJudgedMergesRunsIntoRollup(t *testing.T) {
	env := newTestEnv(t)
	result := env.plan(t, twoScenarioConfig)
	require.Equal(t, 2, result.RunsCreated)

	env.drain(t, bus.QueueDialogueJobs, NewRunner(env.deps).HandleDialogue)
	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)
	handled := env.drain(t, bus.QueueRunJudged, NewCurator(env.deps).HandleRunJudged)
	require.Equal(t, 2, handled)

	rollup := loadRollup(t, env, testWeek, "tutor-model")
	assert.Equal(t, 2, rollup.RunCount)
	assert.Len(t, rollup.RunIDs, 2)
	assert.InDelta(t, 0.6, rollup.MeanOverall, 1e-9)
	assert.InDelta(t, 1.0, rollup.MeanCompliance, 1e-9)
}

func TestFailedRunFlowsThroughCuration(t *testing.T) {
	env := newTestEnv(t)
	env.tutor.Errs = []error{
		errors.New("status 401 unauthorized"),
		errors.New("status 401 unauthorized"),
	}
	result := env.plan(t, testConfig)
	runID := bench.RunID(result.Manifest.ManifestID, "tutor-model", "EL-MATH-INDUCT-01")
	ctx := context.Background()

	env.drain(t, bus.QueueDialogueJobs, NewRunner(env.deps).HandleDialogue)
	handled := env.drain(t, bus.QueueRunJudged, NewCurator(env.deps).HandleRunJudged)
	require.Equal(t, 1, handled)

	item, err := env.deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortSummary)
	require.NoError(t, err)
	var summary bench.RunSummary
	require.NoError(t, json.Unmarshal(item.Body, &summary))
	assert.Equal(t, 0, summary.NTurnsRecorded)
	assert.Equal(t, 0, summary.NTurnsJudged)
	assert.Zero(t, summary.MeanOverall)
	assert.Zero(t, summary.ComplianceRate)
	// The failed run's plan shrank to zero turns, so the half-life is
	// zero rather than the turns the dialogue never reached.
	assert.Equal(t, 0, summary.NTurnsPlanned)
	assert.Equal(t, 0, summary.HalfLife)

	rollup := loadRollup(t, env, testWeek, "tutor-model")
	assert.Equal(t, 1, rollup.RunCount)
	assert.Zero(t, rollup.MeanOverall)
}

func TestMidwayFailedRunMeasuresAgainstRecordedTurns(t *testing.T) {
	env := newTestEnv(t)
	env.tutor.Errs = []error{nil, errors.New("status 400 bad request")}
	result := env.plan(t, testConfig)
	runID := bench.RunID(result.Manifest.ManifestID, "tutor-model", "EL-MATH-INDUCT-01")
	ctx := context.Background()

	env.drain(t, bus.QueueDialogueJobs, NewRunner(env.deps).HandleDialogue)
	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)
	handled := env.drain(t, bus.QueueRunJudged, NewCurator(env.deps).HandleRunJudged)
	require.Equal(t, 1, handled)

	item, err := env.deps.KV.Get(ctx, bench.RunPartition(runID), bench.SortSummary)
	require.NoError(t, err)
	var summary bench.RunSummary
	require.NoError(t, json.Unmarshal(item.Body, &summary))

	// The one recorded turn is the whole plan after the failure, so
	// compliance is measured over it alone.
	assert.Equal(t, 1, summary.NTurnsPlanned)
	assert.Equal(t, 1, summary.NTurnsRecorded)
	assert.Equal(t, 1, summary.NTurnsJudged)
	assert.InDelta(t, 1.0, summary.ComplianceRate, 1e-9)
	assert.InDelta(t, 0.6, summary.MeanOverall, 1e-9)
	assert.Equal(t, 0, summary.HalfLife)
}

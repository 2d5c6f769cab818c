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
	"github.com/socratic-labs/socbench/pkg/store"
)

func loadJudgeRecord(t *testing.T, env *testEnv, runID string, turnIndex int) *bench.JudgeRecord {
	t.Helper()
	item, err := env.deps.KV.Get(context.Background(), bench.RunPartition(runID), bench.JudgeSort(turnIndex))
	require.NoError(t, err)
	var rec bench.JudgeRecord
	require.NoError(t, json.Unmarshal(item.Body, &rec))
	return &rec
}

func TestHandleJudgeScoresAndCommitsCompletion(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	ctx := context.Background()

	judge := NewJudge(env.deps)
	msg := env.receive(t, bus.QueueJudgeJobs)
	require.NoError(t, judge.HandleJudge(ctx, msg))
	require.NoError(t, env.deps.Bus.Delete(ctx, bus.QueueJudgeJobs, msg.ID))

	// One turn judged: the counter advanced but the judged timestamp waits
	// for the committing update.
	run := env.loadRun(t, runID)
	assert.Equal(t, 1, run.NTurnsJudged)
	assert.False(t, run.CompletionCommitted)
	assert.Nil(t, run.JudgedAt)

	handled := env.drain(t, bus.QueueJudgeJobs, judge.HandleJudge)
	require.Equal(t, 1, handled)

	run = env.loadRun(t, runID)
	assert.Equal(t, bench.RunCompleted, run.Status)
	assert.Equal(t, 2, run.NTurnsJudged)
	assert.Equal(t, []int{0, 1}, run.JudgedTurns)
	assert.True(t, run.CompletionCommitted)
	require.NotNil(t, run.JudgedAt)

	// Exactly one run-judged event for the whole run, stamped with the
	// committing update's time.
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
	eventMsg := env.receive(t, bus.QueueRunJudged)
	var event RunJudgedEvent
	require.NoError(t, json.Unmarshal(eventMsg.Body, &event))
	assert.Equal(t, runID, event.RunID)
	assert.Equal(t, run.JudgedAt.UTC(), event.JudgedAt.UTC())

	rec := loadJudgeRecord(t, env, runID, 0)
	assert.Equal(t, bench.JudgeScored, rec.State)
	assert.False(t, rec.Failed)
	assert.InDelta(t, 0.4, rec.Scores.Verbosity, 1e-9)
	assert.InDelta(t, 0.6, rec.Scores.Overall, 1e-9)
	assert.Equal(t, "short and probing", rec.Rationale)
	assert.True(t, rec.Heuristics.HasQuestion)

	// The full payload, raw judge response included, is in the object store.
	raw, err := env.deps.Objects.Get(ctx, rec.BodyRef)
	require.NoError(t, err)
	var body bench.JudgeBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, verdictJSON, body.RawResponse)
}

func TestHandleJudgeDuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	judge := NewJudge(env.deps)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueJudgeJobs)
	require.NoError(t, judge.HandleJudge(ctx, msg))
	calls := env.judge.Calls()
	before := env.loadRun(t, runID)

	require.NoError(t, judge.HandleJudge(ctx, msg))
	assert.Equal(t, calls, env.judge.Calls(), "a scored record must not be re-scored")
	after := env.loadRun(t, runID)
	assert.Equal(t, before.NTurnsJudged, after.NTurnsJudged)
	assert.Equal(t, before.JudgedTurns, after.JudgedTurns)
}

func TestHandleJudgeParseFailureStillCounts(t *testing.T) {
	env := newTestEnv(t)
	env.judge.Responses = []string{"I refuse to answer in JSON."}
	runID := env.recordDialogue(t)

	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)

	rec := loadJudgeRecord(t, env, runID, 0)
	assert.Equal(t, bench.JudgeScored, rec.State)
	assert.True(t, rec.Failed)
	assert.NotEmpty(t, rec.FailedReason)
	assert.Zero(t, rec.Scores.Overall)

	// Failed verdicts still count toward completion.
	run := env.loadRun(t, runID)
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, 2, run.NTurnsJudged)
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
}

func TestHandleJudgeModelErrorIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	env.judge.Errs = []error{
		errors.New("status 400 bad request"),
		errors.New("status 400 bad request"),
	}
	runID := env.recordDialogue(t)

	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)

	rec := loadJudgeRecord(t, env, runID, 0)
	assert.True(t, rec.Failed)
	assert.Contains(t, rec.FailedReason, "400")

	run := env.loadRun(t, runID)
	assert.True(t, run.CompletionCommitted)
}

func TestHandleJudgeExhaustionOnFinalDeliveryFails(t *testing.T) {
	env := newTestEnv(t)
	env.judge.Errs = []error{
		errors.New("status 529 overloaded"),
		errors.New("status 529 overloaded"),
	}
	runID := env.recordDialogue(t)
	judge := NewJudge(env.deps)
	ctx := context.Background()

	// The last delivery before dead-lettering must not release again:
	// exhausted judge retries become a failed verdict so the run can still
	// complete.
	for i := 0; i < 2; i++ {
		payload, err := json.Marshal(JudgeJob{RunID: runID, TurnIndex: i, JudgeModel: "judge-model"})
		require.NoError(t, err)
		require.NoError(t, judge.HandleJudge(ctx, &bus.Message{
			ID:           judgeJobID(runID, i),
			Body:         payload,
			ReceiveCount: bus.DefaultMaxDeliveries,
		}))
	}

	rec := loadJudgeRecord(t, env, runID, 0)
	assert.Equal(t, bench.JudgeScored, rec.State)
	assert.True(t, rec.Failed)
	assert.Contains(t, rec.FailedReason, "529")

	run := env.loadRun(t, runID)
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, 2, run.NTurnsJudged)
}

func TestHandleJudgeTransientErrorReleases(t *testing.T) {
	env := newTestEnv(t)
	env.judge.Errs = []error{errors.New("status 529 overloaded")}
	runID := env.recordDialogue(t)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueJudgeJobs)
	err := NewJudge(env.deps).HandleJudge(ctx, msg)
	require.Error(t, err)

	// The claim survives as pending; redelivery resumes the scoring.
	rec := loadJudgeRecord(t, env, runID, 0)
	assert.Equal(t, bench.JudgePending, rec.State)

	run := env.loadRun(t, runID)
	assert.Equal(t, 0, run.NTurnsJudged)
}

func TestHandleJudgeResumesPendingRecord(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	ctx := context.Background()

	// A previous delivery claimed turn 0 and died before scoring.
	pending, err := json.Marshal(bench.JudgeRecord{
		RunID:      runID,
		TurnIndex:  0,
		State:      bench.JudgePending,
		JudgeModel: "judge-model",
		CreatedAt:  env.deps.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, env.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition: bench.RunPartition(runID),
		Sort:      bench.JudgeSort(0),
		Body:      pending,
	}))

	msg := env.receive(t, bus.QueueJudgeJobs)
	require.NoError(t, NewJudge(env.deps).HandleJudge(ctx, msg))

	rec := loadJudgeRecord(t, env, runID, 0)
	assert.Equal(t, bench.JudgeScored, rec.State)
	assert.InDelta(t, 0.6, rec.Scores.Overall, 1e-9)
	assert.Equal(t, 1, env.judge.Calls())
}

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

func TestHandleDialogueRecordsAllTurns(t *testing.T) {
	env := newTestEnv(t)
	runID := env.recordDialogue(t)
	ctx := context.Background()

	run := env.loadRun(t, runID)
	assert.Equal(t, bench.RunRecording, run.Status)
	assert.Equal(t, 2, run.NTurnsRecorded)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, 2, env.tutor.Calls())

	turns, err := env.deps.KV.QueryPrefix(ctx, bench.RunPartition(runID), "TURN#")
	require.NoError(t, err)
	require.Len(t, turns, 2)

	var rec bench.TurnRecord
	require.NoError(t, json.Unmarshal(turns[0].Body, &rec))
	raw, err := env.deps.Objects.Get(ctx, rec.BodyRef)
	require.NoError(t, err)
	var body bench.TurnBody
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "What do you already know about the base case?", body.TutorResponse)
	assert.NotEmpty(t, body.StudentPrompt)
	assert.True(t, body.Heuristics.HasQuestion)

	// One judge job per recorded turn.
	assert.Equal(t, 2, env.depth(t, bus.QueueJudgeJobs))
}

func TestHandleDialogueRedeliveryDoesNotRecallModel(t *testing.T) {
	env := newTestEnv(t)
	env.plan(t, testConfig)
	runner := NewRunner(env.deps)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, runner.HandleDialogue(ctx, msg))
	require.NoError(t, env.deps.Bus.Delete(ctx, bus.QueueDialogueJobs, msg.ID))
	calls := env.tutor.Calls()

	// A redelivered job finds the terminal status and only re-publishes the
	// (deduped) judge jobs.
	require.NoError(t, runner.HandleDialogue(ctx, msg))
	assert.Equal(t, calls, env.tutor.Calls())
	assert.Equal(t, 2, env.depth(t, bus.QueueJudgeJobs))
}

func TestHandleDialogueAdoptsOrphanedTurn(t *testing.T) {
	env := newTestEnv(t)
	result := env.plan(t, testConfig)
	runID := bench.RunID(result.Manifest.ManifestID, "tutor-model", "EL-MATH-INDUCT-01")
	ctx := context.Background()

	// Simulate a crash after the turn-0 body and pointer landed but before
	// the recorded counter advanced.
	now := env.deps.Now().UTC()
	bodyRef := bench.TurnBodyKey(runID, 0)
	bodyBytes, err := json.Marshal(bench.TurnBody{
		RunID:         runID,
		TurnIndex:     0,
		StudentPrompt: "Why does induction need a base case?",
		TutorResponse: "What happens to the argument without one?",
		CreatedAt:     now,
	})
	require.NoError(t, err)
	require.NoError(t, env.deps.Objects.Put(ctx, bodyRef, bodyBytes))

	recBytes, err := json.Marshal(bench.TurnRecord{
		RunID:     runID,
		TurnIndex: 0,
		BodyRef:   bodyRef,
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, env.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition: bench.RunPartition(runID),
		Sort:      bench.TurnSort(0),
		Body:      recBytes,
	}))

	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, NewRunner(env.deps).HandleDialogue(ctx, msg))

	// Only turn 1 needed a model call; turn 0 was adopted as recorded.
	assert.Equal(t, 1, env.tutor.Calls())
	run := env.loadRun(t, runID)
	assert.Equal(t, 2, run.NTurnsRecorded)
	assert.Equal(t, bench.RunRecording, run.Status)
	assert.Equal(t, 2, env.depth(t, bus.QueueJudgeJobs))
}

func TestHandleDialogueFailsRunWithNothingRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.tutor.Errs = []error{errors.New("status 401 unauthorized")}
	env.plan(t, testConfig)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, NewRunner(env.deps).HandleDialogue(ctx, msg))

	var job DialogueJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	run := env.loadRun(t, job.RunID)
	assert.Equal(t, bench.RunFailed, run.Status)
	assert.Contains(t, run.FailureReason, "401")
	assert.Equal(t, 0, run.NTurnsRecorded)
	assert.Equal(t, 0, run.NTurnsPlanned, "a failed run's plan shrinks to the recorded turns")

	// Nothing to judge, so completion commits immediately and the run still
	// reaches the curator.
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, 0, env.depth(t, bus.QueueJudgeJobs))
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
}

func TestHandleDialogueFailsRunMidway(t *testing.T) {
	env := newTestEnv(t)
	env.tutor.Errs = []error{nil, errors.New("status 400 bad request")}
	env.plan(t, testConfig)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, NewRunner(env.deps).HandleDialogue(ctx, msg))

	var job DialogueJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	run := env.loadRun(t, job.RunID)
	assert.Equal(t, bench.RunFailed, run.Status)
	assert.Equal(t, 1, run.NTurnsRecorded)
	assert.Equal(t, 1, run.NTurnsPlanned, "a failed run's plan shrinks to the recorded turns")

	// The recorded turn still gets judged; completion waits for it.
	assert.False(t, run.CompletionCommitted)
	assert.Equal(t, 1, env.depth(t, bus.QueueJudgeJobs))
	assert.Equal(t, 0, env.depth(t, bus.QueueRunJudged))

	env.drain(t, bus.QueueJudgeJobs, NewJudge(env.deps).HandleJudge)
	run = env.loadRun(t, job.RunID)
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, bench.RunFailed, run.Status)
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
}

func TestHandleDialogueFailsRunOnRetryExhaustion(t *testing.T) {
	env := newTestEnv(t)
	// The gateway's single attempt spends the whole retry budget, so the
	// overload error comes back wrapped as exhaustion.
	env.tutor.Errs = []error{errors.New("status 529 overloaded")}
	env.plan(t, testConfig)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, NewRunner(env.deps).HandleDialogue(ctx, msg))

	// Redelivering cannot help once the gateway gave up; the run fails and
	// still flows to the curator instead of stranding in the queue.
	var job DialogueJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	run := env.loadRun(t, job.RunID)
	assert.Equal(t, bench.RunFailed, run.Status)
	assert.Contains(t, run.FailureReason, "529")
	assert.Equal(t, 0, run.NTurnsRecorded)
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
}

func TestHandleDialogueReleasesOnCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.tutor.Errs = []error{context.Canceled}
	env.plan(t, testConfig)
	ctx := context.Background()

	msg := env.receive(t, bus.QueueDialogueJobs)
	err := NewRunner(env.deps).HandleDialogue(ctx, msg)
	require.Error(t, err)

	// A cancelled call is the handler deadline, not the model; the run is
	// untouched and redelivery resumes the dialogue.
	var job DialogueJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	run := env.loadRun(t, job.RunID)
	assert.Equal(t, bench.RunQueued, run.Status)
	assert.Equal(t, 0, run.NTurnsRecorded)
	assert.Empty(t, run.FailureReason)
}

func TestHandleDialogueRedeliveryCommitsLateJudges(t *testing.T) {
	env := newTestEnv(t)
	result := env.plan(t, testConfig)
	runID := bench.RunID(result.Manifest.ManifestID, "tutor-model", "EL-MATH-INDUCT-01")
	ctx := context.Background()

	// A delivery recorded both turns and crashed before flipping the
	// status off running.
	seedRecordedTurn(t, env, runID, 0)
	seedRecordedTurn(t, env, runID, 1)
	_, err := updateRun(ctx, env.deps, runID, func(run *bench.Run) {
		run.Status = bench.RunRunning
		run.NTurnsRecorded = 2
		now := env.deps.Now().UTC()
		run.StartedAt = &now
	})
	require.NoError(t, err)

	// Every judge lands while the status still says running, so no fold
	// can commit completion.
	judge := NewJudge(env.deps)
	for i := 0; i < 2; i++ {
		payload, err := json.Marshal(JudgeJob{RunID: runID, TurnIndex: i, JudgeModel: "judge-model"})
		require.NoError(t, err)
		require.NoError(t, env.deps.Bus.Enqueue(ctx, bus.QueueJudgeJobs, judgeJobID(runID, i), payload))
	}
	env.drain(t, bus.QueueJudgeJobs, judge.HandleJudge)

	run := env.loadRun(t, runID)
	assert.Equal(t, 2, run.NTurnsJudged)
	assert.False(t, run.CompletionCommitted)
	assert.Equal(t, 0, env.depth(t, bus.QueueRunJudged))

	// The redelivered dialogue job has nothing left to record; its status
	// flip must re-check completion or the run-judged event is lost.
	msg := env.receive(t, bus.QueueDialogueJobs)
	require.NoError(t, NewRunner(env.deps).HandleDialogue(ctx, msg))

	run = env.loadRun(t, runID)
	assert.Equal(t, bench.RunCompleted, run.Status)
	assert.True(t, run.CompletionCommitted)
	assert.Equal(t, 1, env.depth(t, bus.QueueRunJudged))
	assert.Equal(t, 0, env.tutor.Calls())
}

// seedRecordedTurn writes the turn body and pointer for turnIndex as a
// crashed runner would have left them.
func seedRecordedTurn(t *testing.T, env *testEnv, runID string, turnIndex int) {
	t.Helper()
	ctx := context.Background()
	now := env.deps.Now().UTC()

	bodyRef := bench.TurnBodyKey(runID, turnIndex)
	bodyBytes, err := json.Marshal(bench.TurnBody{
		RunID:         runID,
		TurnIndex:     turnIndex,
		StudentPrompt: "What's the proof?",
		TutorResponse: "What do you already know about the base case?",
		CreatedAt:     now,
	})
	require.NoError(t, err)
	require.NoError(t, env.deps.Objects.Put(ctx, bodyRef, bodyBytes))

	recBytes, err := json.Marshal(bench.TurnRecord{
		RunID:     runID,
		TurnIndex: turnIndex,
		BodyRef:   bodyRef,
		CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, env.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition: bench.RunPartition(runID),
		Sort:      bench.TurnSort(turnIndex),
		Body:      recBytes,
	}))
}

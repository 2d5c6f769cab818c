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
	"github.com/socratic-labs/socbench/pkg/gateway"
	"github.com/socratic-labs/socbench/pkg/observability"
	"github.com/socratic-labs/socbench/pkg/scenarios"
	"github.com/socratic-labs/socbench/pkg/scoring"
	"github.com/socratic-labs/socbench/pkg/store"
)

// Runner executes dialogue jobs: it plays the scenario against the model
// under test, records each turn (object body first, then conditional
// pointer, then versioned counter), and enqueues a judge job per recorded
// turn. Redelivery resumes from the recorded counter, never re-calling the
// model for turns that already landed.
type Runner struct {
	deps Deps
}

// NewRunner creates a runner.
func NewRunner(deps Deps) *Runner {
	deps.defaults()
	return &Runner{deps: deps}
}

// HandleDialogue processes one dialogue job. A returned error releases the
// message for redelivery; terminal failures mark the run failed and ack.
func (r *Runner) HandleDialogue(ctx context.Context, msg *bus.Message) error {
	var job DialogueJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return fmt.Errorf("failed to decode dialogue job: %w", err)
	}

	var span *observability.Span
	if r.deps.Tracer != nil {
		ctx, span = r.deps.Tracer.StartSpan(ctx, observability.SpanRunnerDialogue)
		defer r.deps.Tracer.EndSpan(span)
		span.SetAttribute("run_id", job.RunID)
		span.SetAttribute("model_id", job.Model.ModelID)
		span.SetAttribute("scenario_id", job.ScenarioID)
	}

	item, err := r.deps.KV.Get(ctx, bench.RunPartition(job.RunID), bench.SortMeta)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", job.RunID, err)
	}
	run, err := loadRun(item)
	if err != nil {
		return err
	}

	// Terminal statuses mean a previous delivery finished the dialogue;
	// re-publish the judge jobs (deduped) and, if completion already
	// committed, the run-judged event, then ack.
	if run.Status == bench.RunRecording || run.Status == bench.RunCompleted ||
		run.Status == bench.RunFailed {
		if err := r.publishJudgeJobs(ctx, run, job.JudgeModel); err != nil {
			return err
		}
		if run.CompletionCommitted {
			return publishRunJudged(ctx, r.deps, run)
		}
		return nil
	}

	sc, err := scenarios.Get(job.ScenarioID)
	if err != nil {
		// The manifest references a scenario this binary doesn't carry.
		// Retrying cannot help.
		return r.failRun(ctx, run, job.JudgeModel, err)
	}

	history, err := r.loadHistory(ctx, run)
	if err != nil {
		return err
	}

	policy := scenarios.PolicyFor(sc, r.deps.Policy)
	for i := run.NTurnsRecorded; i < run.NTurnsPlanned; i++ {
		recorded, err := r.recordTurn(ctx, run, sc, policy, &job, i, &history)
		if err != nil {
			switch {
			case errors.Is(err, gateway.ErrExhausted):
				// The gateway already spent its full retry budget on this
				// turn; redelivering would strand the run once the message
				// dead-letters.
				return r.failRun(ctx, run, job.JudgeModel, err)
			case gateway.IsTransient(err), errors.Is(err, context.Canceled),
				errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				return r.failRun(ctx, run, job.JudgeModel, err)
			}
		}
		run = recorded

		if err := r.publishJudgeJob(ctx, run.RunID, i, job.JudgeModel); err != nil {
			return err
		}
	}

	run, err = r.updateRun(ctx, run.RunID, func(run *bench.Run) {
		if run.Status == bench.RunRunning || run.Status == bench.RunQueued {
			run.Status = bench.RunRecording
			now := r.deps.Now().UTC()
			run.CompletedAt = &now
		}
	})
	if err != nil {
		return err
	}

	// Judges racing this delivery may have scored every turn while the
	// status still said running, in which case no fold could commit
	// completion. Re-check under the recording status so the run-judged
	// event cannot be lost to that interleaving.
	event, run, err := commitJudged(ctx, r.deps, run.RunID, -1)
	if err != nil {
		return err
	}
	if event != nil || run.CompletionCommitted {
		if err := publishRunJudged(ctx, r.deps, run); err != nil {
			return err
		}
	}

	r.deps.Logger.Info("dialogue recorded",
		zap.String("run_id", run.RunID),
		zap.String("model_id", run.ModelID),
		zap.String("scenario_id", run.ScenarioID),
		zap.Int("turns", run.NTurnsRecorded))
	return nil
}

// recordTurn records turn i: if a pointer already exists (crash between
// pointer and counter), it is adopted; otherwise the model is called and
// the body/pointer pair written. Returns the run with its counter advanced.
func (r *Runner) recordTurn(ctx context.Context, run *bench.Run, sc *scenarios.Scenario, policy scenarios.ReplyPolicy, job *DialogueJob, i int, history *[]scenarios.Exchange) (*bench.Run, error) {
	partition := bench.RunPartition(run.RunID)

	existing, err := r.deps.KV.Get(ctx, partition, bench.TurnSort(i))
	switch {
	case err == nil:
		var rec bench.TurnRecord
		if err := json.Unmarshal(existing.Body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode turn record: %w", err)
		}
		body, err := r.loadTurnBody(ctx, rec.BodyRef)
		if err != nil {
			return nil, err
		}
		*history = append(*history, scenarios.Exchange{
			StudentPrompt: body.StudentPrompt,
			TutorResponse: body.TutorResponse,
		})
		return r.advanceRecorded(ctx, run.RunID, i)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to check turn %d: %w", i, err)
	}

	prompt, err := policy.NextPrompt(ctx, sc, i, *history)
	if err != nil {
		return nil, err
	}

	messages := make([]gateway.Message, 0, 2*len(*history)+1)
	for _, ex := range *history {
		messages = append(messages,
			gateway.Message{Role: gateway.RoleUser, Content: ex.StudentPrompt},
			gateway.Message{Role: gateway.RoleAssistant, Content: ex.TutorResponse},
		)
	}
	messages = append(messages, gateway.Message{Role: gateway.RoleUser, Content: prompt})

	resp, err := r.deps.Gateway.Generate(ctx, gateway.Request{
		ModelID:     job.Model.ModelID,
		System:      sc.TutorSystemPrompt,
		Messages:    messages,
		Temperature: job.Model.Temperature,
		MaxTokens:   job.Model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	now := r.deps.Now().UTC()
	body := bench.TurnBody{
		RunID:         run.RunID,
		TurnIndex:     i,
		StudentPrompt: prompt,
		TutorResponse: resp.Text,
		TokensIn:      resp.TokensIn,
		TokensOut:     resp.TokensOut,
		LatencyMs:     resp.LatencyMs,
		Heuristics:    scoring.ComputeHeuristics(resp.Text),
		CreatedAt:     now,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn body: %w", err)
	}
	bodyRef := bench.TurnBodyKey(run.RunID, i)
	if err := r.deps.Objects.Put(ctx, bodyRef, bodyBytes); err != nil {
		return nil, err
	}

	rec := bench.TurnRecord{
		RunID:     run.RunID,
		TurnIndex: i,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		LatencyMs: resp.LatencyMs,
		BodyRef:   bodyRef,
		CreatedAt: now,
	}
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn record: %w", err)
	}
	err = r.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition:  partition,
		Sort:       bench.TurnSort(i),
		Body:       recBytes,
		ModelID:    run.ModelID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
	})
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return nil, fmt.Errorf("failed to record turn %d: %w", i, err)
	}

	*history = append(*history, scenarios.Exchange{StudentPrompt: prompt, TutorResponse: resp.Text})
	return r.advanceRecorded(ctx, run.RunID, i)
}

// advanceRecorded bumps the run's recorded counter to cover turn i.
func (r *Runner) advanceRecorded(ctx context.Context, runID string, i int) (*bench.Run, error) {
	return r.updateRun(ctx, runID, func(run *bench.Run) {
		if run.NTurnsRecorded < i+1 {
			run.NTurnsRecorded = i + 1
		}
		if run.Status == bench.RunQueued {
			run.Status = bench.RunRunning
		}
		if run.StartedAt == nil {
			now := r.deps.Now().UTC()
			run.StartedAt = &now
		}
	})
}

// failRun marks the run failed and closes out the judging that is still
// possible: recorded turns get judge jobs, and a run with nothing recorded
// commits completion immediately so the curator still sees it.
func (r *Runner) failRun(ctx context.Context, run *bench.Run, judgeModel string, cause error) error {
	r.deps.Logger.Warn("run failed",
		zap.String("run_id", run.RunID),
		zap.String("model_id", run.ModelID),
		zap.Error(cause))

	run, err := r.updateRun(ctx, run.RunID, func(run *bench.Run) {
		if run.Status != bench.RunCompleted {
			run.Status = bench.RunFailed
			run.FailureReason = cause.Error()
			// The plan shrinks to the turns that actually landed, so
			// completion and compliance are measured against them.
			run.NTurnsPlanned = run.NTurnsRecorded
		}
	})
	if err != nil {
		return err
	}

	if err := r.publishJudgeJobs(ctx, run, judgeModel); err != nil {
		return err
	}

	if run.NTurnsRecorded == 0 {
		event, run, err := commitJudged(ctx, r.deps, run.RunID, -1)
		if err != nil {
			return err
		}
		if event != nil || run.CompletionCommitted {
			if err := publishRunJudged(ctx, r.deps, run); err != nil {
				return err
			}
		}
	}
	return nil
}

// publishJudgeJobs enqueues a judge job for every recorded turn.
func (r *Runner) publishJudgeJobs(ctx context.Context, run *bench.Run, judgeModel string) error {
	for i := 0; i < run.NTurnsRecorded; i++ {
		if err := r.publishJudgeJob(ctx, run.RunID, i, judgeModel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) publishJudgeJob(ctx context.Context, runID string, turnIndex int, judgeModel string) error {
	payload, err := json.Marshal(JudgeJob{
		RunID:      runID,
		TurnIndex:  turnIndex,
		JudgeModel: judgeModel,
	})
	if err != nil {
		return fmt.Errorf("failed to encode judge job: %w", err)
	}
	return r.deps.Bus.Enqueue(ctx, bus.QueueJudgeJobs, judgeJobID(runID, turnIndex), payload)
}

// loadHistory rebuilds the dialogue history from recorded turn bodies.
func (r *Runner) loadHistory(ctx context.Context, run *bench.Run) ([]scenarios.Exchange, error) {
	if run.NTurnsRecorded == 0 {
		return nil, nil
	}

	items, err := r.deps.KV.QueryPrefix(ctx, bench.RunPartition(run.RunID), "TURN#")
	if err != nil {
		return nil, fmt.Errorf("failed to query turns for %s: %w", run.RunID, err)
	}

	history := make([]scenarios.Exchange, 0, len(items))
	for _, item := range items {
		var rec bench.TurnRecord
		if err := json.Unmarshal(item.Body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode turn record: %w", err)
		}
		if rec.TurnIndex >= run.NTurnsRecorded {
			continue
		}
		body, err := r.loadTurnBody(ctx, rec.BodyRef)
		if err != nil {
			return nil, err
		}
		history = append(history, scenarios.Exchange{
			StudentPrompt: body.StudentPrompt,
			TutorResponse: body.TutorResponse,
		})
	}
	return history, nil
}

func (r *Runner) loadTurnBody(ctx context.Context, bodyRef string) (*bench.TurnBody, error) {
	raw, err := r.deps.Objects.Get(ctx, bodyRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load turn body %s: %w", bodyRef, err)
	}
	var body bench.TurnBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode turn body %s: %w", bodyRef, err)
	}
	return &body, nil
}

// updateRun applies mutate inside a bounded optimistic-concurrency loop.
func (r *Runner) updateRun(ctx context.Context, runID string, mutate func(*bench.Run)) (*bench.Run, error) {
	return updateRun(ctx, r.deps, runID, mutate)
}

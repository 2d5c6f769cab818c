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
	"github.com/socratic-labs/socbench/pkg/scoring"
	"github.com/socratic-labs/socbench/pkg/store"
)

// Judge scores recorded turns. Each judge job claims its record with a
// conditional put, scores the turn (rubric via the judge model, heuristics
// from the stored body), finalizes the record with a versioned write, and
// folds the turn into the run's judged set. The fold that completes the set
// commits run completion and emits the single run-judged event.
type Judge struct {
	deps Deps
}

// NewJudge creates a judge.
func NewJudge(deps Deps) *Judge {
	deps.defaults()
	return &Judge{deps: deps}
}

// HandleJudge processes one judge job. A returned error releases the
// message for redelivery.
func (j *Judge) HandleJudge(ctx context.Context, msg *bus.Message) error {
	var job JudgeJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return fmt.Errorf("failed to decode judge job: %w", err)
	}

	var span *observability.Span
	if j.deps.Tracer != nil {
		ctx, span = j.deps.Tracer.StartSpan(ctx, observability.SpanJudgeTurn)
		defer j.deps.Tracer.EndSpan(span)
		span.SetAttribute("run_id", job.RunID)
		span.SetAttribute("turn_index", job.TurnIndex)
	}

	rec, version, err := j.claim(ctx, &job)
	if err != nil {
		return err
	}

	if rec.State != bench.JudgeScored {
		rec, err = j.score(ctx, &job, rec, version, msg.ReceiveCount >= bus.DefaultMaxDeliveries)
		if err != nil {
			return err
		}
	}

	event, run, err := commitJudged(ctx, j.deps, job.RunID, job.TurnIndex)
	if err != nil {
		return err
	}

	// The committing writer emits; a redelivery that finds completion
	// already committed re-publishes, which the curator dedupes.
	if run.CompletionCommitted && (event != nil || msg.ReceiveCount > 1) {
		if err := publishRunJudged(ctx, j.deps, run); err != nil {
			return err
		}
	}

	if event != nil {
		j.deps.Logger.Info("run judging complete",
			zap.String("run_id", run.RunID),
			zap.String("model_id", run.ModelID),
			zap.Int("turns_judged", run.NTurnsJudged))
	}
	return nil
}

// claim loads or creates the judge record for this job. A fresh record
// starts pending; finding a pending record means a previous delivery died
// mid-score and this one resumes it.
func (j *Judge) claim(ctx context.Context, job *JudgeJob) (*bench.JudgeRecord, int64, error) {
	partition := bench.RunPartition(job.RunID)
	sort := bench.JudgeSort(job.TurnIndex)

	item, err := j.deps.KV.Get(ctx, partition, sort)
	if err == nil {
		var rec bench.JudgeRecord
		if err := json.Unmarshal(item.Body, &rec); err != nil {
			return nil, 0, fmt.Errorf("failed to decode judge record: %w", err)
		}
		return &rec, item.Version, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("failed to load judge record: %w", err)
	}

	rec := &bench.JudgeRecord{
		RunID:      job.RunID,
		TurnIndex:  job.TurnIndex,
		State:      bench.JudgePending,
		JudgeModel: job.JudgeModel,
		CreatedAt:  j.deps.Now().UTC(),
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode judge record: %w", err)
	}

	err = j.deps.KV.PutIfAbsent(ctx, store.Item{
		Partition: partition,
		Sort:      sort,
		Body:      body,
	})
	if errors.Is(err, store.ErrConditionFailed) {
		// Lost the claim race; adopt whatever the winner wrote.
		item, err := j.deps.KV.Get(ctx, partition, sort)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to reload judge record: %w", err)
		}
		var existing bench.JudgeRecord
		if err := json.Unmarshal(item.Body, &existing); err != nil {
			return nil, 0, fmt.Errorf("failed to decode judge record: %w", err)
		}
		return &existing, item.Version, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to claim judge record: %w", err)
	}
	return rec, 1, nil
}

// score runs heuristics and the judge model, writes the full payload to the
// object store, and finalizes the record pending→scored. lastDelivery marks
// the final delivery before the message dead-letters: transient judge
// failures then finalize as failed verdicts instead of stranding the run.
func (j *Judge) score(ctx context.Context, job *JudgeJob, rec *bench.JudgeRecord, version int64, lastDelivery bool) (*bench.JudgeRecord, error) {
	turnBody, err := j.loadTurnBody(ctx, job)
	if err != nil {
		return nil, err
	}
	rec.Heuristics = turnBody.Heuristics

	rawResponse := ""
	resp, err := j.deps.Gateway.Generate(ctx, gateway.Request{
		ModelID:   job.JudgeModel,
		System:    scoring.JudgeSystemPrompt(),
		Messages: []gateway.Message{{
			Role:    gateway.RoleUser,
			Content: scoring.BuildJudgePrompt(turnBody.StudentPrompt, turnBody.TutorResponse),
		}},
		MaxTokens: 512,
	})
	switch {
	case err == nil:
		rawResponse = resp.Text
		verdict, perr := scoring.ParseVerdict(resp.Text)
		var parseErr *scoring.ParseError
		switch {
		case perr == nil:
			rec.Scores = verdict.Scores
			rec.Rationale = verdict.Rationale
		case errors.As(perr, &parseErr):
			// Terminal for the turn: zeroed scores, still counts toward
			// completion.
			rec.Failed = true
			rec.FailedReason = parseErr.Error()
		default:
			return nil, perr
		}
	case gateway.IsTransient(err):
		if !lastDelivery || !errors.Is(err, gateway.ErrExhausted) {
			return nil, err
		}
		// No deliveries left and the retry budget is spent; a failed
		// verdict keeps the run able to complete.
		rec.Failed = true
		rec.FailedReason = err.Error()
	default:
		rec.Failed = true
		rec.FailedReason = err.Error()
	}

	now := j.deps.Now().UTC()
	bodyRef := bench.JudgeBodyKey(job.RunID, job.TurnIndex)
	judgeBody := bench.JudgeBody{
		RunID:       job.RunID,
		TurnIndex:   job.TurnIndex,
		Scores:      rec.Scores,
		Rationale:   rec.Rationale,
		Failed:      rec.Failed,
		JudgeModel:  job.JudgeModel,
		RawResponse: rawResponse,
		CreatedAt:   now,
	}
	bodyBytes, err := json.Marshal(judgeBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode judge body: %w", err)
	}
	if err := j.deps.Objects.Put(ctx, bodyRef, bodyBytes); err != nil {
		return nil, err
	}

	rec.State = bench.JudgeScored
	rec.BodyRef = bodyRef
	recBytes, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode judge record: %w", err)
	}
	err = j.deps.KV.UpdateIfVersion(ctx, store.Item{
		Partition: bench.RunPartition(job.RunID),
		Sort:      bench.JudgeSort(job.TurnIndex),
		Body:      recBytes,
	}, version)
	if errors.Is(err, store.ErrConditionFailed) {
		// A concurrent delivery scored the turn first; its record stands.
		item, err := j.deps.KV.Get(ctx, bench.RunPartition(job.RunID), bench.JudgeSort(job.TurnIndex))
		if err != nil {
			return nil, fmt.Errorf("failed to reload judge record: %w", err)
		}
		var winner bench.JudgeRecord
		if err := json.Unmarshal(item.Body, &winner); err != nil {
			return nil, fmt.Errorf("failed to decode judge record: %w", err)
		}
		return &winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to finalize judge record: %w", err)
	}

	if rec.Failed {
		j.deps.Logger.Warn("judge verdict unusable",
			zap.String("run_id", job.RunID),
			zap.Int("turn_index", job.TurnIndex),
			zap.String("reason", rec.FailedReason))
	}
	return rec, nil
}

func (j *Judge) loadTurnBody(ctx context.Context, job *JudgeJob) (*bench.TurnBody, error) {
	item, err := j.deps.KV.Get(ctx, bench.RunPartition(job.RunID), bench.TurnSort(job.TurnIndex))
	if err != nil {
		return nil, fmt.Errorf("failed to load turn %d of %s: %w", job.TurnIndex, job.RunID, err)
	}
	var rec bench.TurnRecord
	if err := json.Unmarshal(item.Body, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode turn record: %w", err)
	}

	raw, err := j.deps.Objects.Get(ctx, rec.BodyRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load turn body %s: %w", rec.BodyRef, err)
	}
	var body bench.TurnBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode turn body: %w", err)
	}
	return &body, nil
}

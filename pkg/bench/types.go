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

// Package bench defines the benchmark domain model: manifests, runs, turns,
// judge records, and the curated aggregates derived from them. Everything
// here is pure data plus deterministic derivations; persistence lives in
// pkg/store and orchestration in pkg/pipeline.
package bench

import (
	"time"

	"github.com/socratic-labs/socbench/pkg/scoring"
)

// RunStatus tracks a run through the pipeline.
type RunStatus string

const (
	// RunQueued means the run was planned but no dialogue turn has been
	// recorded yet.
	RunQueued RunStatus = "queued"
	// RunRunning means the dialogue is in progress.
	RunRunning RunStatus = "running"
	// RunRecording means all planned turns were recorded and judging is in
	// progress.
	RunRecording RunStatus = "completed-recording"
	// RunCompleted means every recorded turn has a judge record and the
	// completion event was committed.
	RunCompleted RunStatus = "completed"
	// RunFailed means the dialogue aborted before recording all planned
	// turns. Recorded turns are still judged and curated.
	RunFailed RunStatus = "failed"
)

// ModelSpec identifies one model under test and its sampling parameters.
type ModelSpec struct {
	ModelID     string  `json:"model_id"`
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Manifest is the frozen fan-out plan for one benchmark week. Its identity
// is a content hash, so re-planning the same week with the same config
// always produces the same manifest.
type Manifest struct {
	ManifestID string      `json:"manifest_id"`
	Week       string      `json:"week"`
	Models     []ModelSpec `json:"models"`
	Scenarios  []string    `json:"scenarios"`
	MaxTurns   int         `json:"max_turns"`
	JudgeModel string      `json:"judge_model"`

	ComplianceThreshold float64 `json:"compliance_threshold"`
	DisciplineThreshold float64 `json:"discipline_threshold"`

	CreatedAt time.Time `json:"created_at"`
}

// Thresholds returns the scoring thresholds frozen into the manifest.
func (m *Manifest) Thresholds() scoring.Thresholds {
	return scoring.Thresholds{
		Compliance: m.ComplianceThreshold,
		Discipline: m.DisciplineThreshold,
	}
}

// RunCount returns the number of (model, scenario) runs the manifest fans
// out to.
func (m *Manifest) RunCount() int {
	return len(m.Models) * len(m.Scenarios)
}

// Run is the per-(model, scenario) unit of work. It is the idempotency
// anchor for the whole pipeline: turn counters, judge bookkeeping, and the
// one-shot completion flag all live here and advance only through versioned
// updates.
type Run struct {
	RunID      string    `json:"run_id"`
	ManifestID string    `json:"manifest_id"`
	Week       string    `json:"week"`
	ModelID    string    `json:"model_id"`
	ScenarioID string    `json:"scenario_id"`
	Status     RunStatus `json:"status"`

	NTurnsPlanned  int `json:"n_turns_planned"`
	NTurnsRecorded int `json:"n_turns_recorded"`
	NTurnsJudged   int `json:"n_turns_judged"`

	// JudgedTurns lists the turn indexes already counted into
	// NTurnsJudged. Judge deliveries are at-least-once; the set makes the
	// counter increment idempotent under replay.
	JudgedTurns []int `json:"judged_turns,omitempty"`

	// CompletionCommitted flips to true exactly once, by the versioned
	// update that observes the last judge record. The writer that performs
	// that transition emits the run-judged event.
	CompletionCommitted bool `json:"completion_committed"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	JudgedAt    *time.Time `json:"judged_at,omitempty"`
}

// HasJudgedTurn reports whether turnIndex was already counted.
func (r *Run) HasJudgedTurn(turnIndex int) bool {
	for _, t := range r.JudgedTurns {
		if t == turnIndex {
			return true
		}
	}
	return false
}

// JudgingDone reports whether recording has finished and every recorded
// turn has been judged. Failed runs complete judging against the recorded
// count, not the planned count; a failed run with nothing recorded is done
// immediately.
func (r *Run) JudgingDone() bool {
	if r.Status != RunRecording && r.Status != RunFailed && r.Status != RunCompleted {
		return false
	}
	return r.NTurnsJudged >= r.NTurnsRecorded
}

// TurnRecord is the kv pointer for one recorded dialogue turn. The full
// transcript payload lives in the object store under BodyRef.
type TurnRecord struct {
	RunID     string    `json:"run_id"`
	TurnIndex int       `json:"turn_index"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	LatencyMs int64     `json:"latency_ms"`
	BodyRef   string    `json:"body_ref"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnBody is the full turn payload stored in the object store.
type TurnBody struct {
	RunID         string             `json:"run_id"`
	TurnIndex     int                `json:"turn_index"`
	StudentPrompt string             `json:"student_prompt"`
	TutorResponse string             `json:"tutor_response"`
	TokensIn      int                `json:"tokens_in"`
	TokensOut     int                `json:"tokens_out"`
	LatencyMs     int64              `json:"latency_ms"`
	Heuristics    scoring.Heuristics `json:"heuristics"`
	CreatedAt     time.Time          `json:"created_at"`
}

// JudgeState tracks a judge record through its two-phase write.
type JudgeState string

const (
	// JudgePending means the record was claimed but not yet scored. A
	// worker that finds a pending record on redelivery resumes the work.
	JudgePending JudgeState = "pending"
	// JudgeScored means scores (or a recorded parse failure) are final.
	JudgeScored JudgeState = "scored"
)

// JudgeRecord is the kv record for one judged turn.
type JudgeRecord struct {
	RunID     string     `json:"run_id"`
	TurnIndex int        `json:"turn_index"`
	State     JudgeState `json:"state"`

	Scores     scoring.Scores     `json:"scores"`
	Heuristics scoring.Heuristics `json:"heuristics"`
	Rationale  string             `json:"rationale,omitempty"`

	// Failed marks a terminal judge parse failure: scores are zeroed but
	// the record still counts toward run completion.
	Failed       bool   `json:"failed"`
	FailedReason string `json:"failed_reason,omitempty"`

	JudgeModel string    `json:"judge_model"`
	BodyRef    string    `json:"body_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// JudgeBody is the full judge payload stored in the object store, including
// the raw judge model response for audit.
type JudgeBody struct {
	RunID       string         `json:"run_id"`
	TurnIndex   int            `json:"turn_index"`
	Scores      scoring.Scores `json:"scores"`
	Rationale   string         `json:"rationale,omitempty"`
	Failed      bool           `json:"failed"`
	JudgeModel  string         `json:"judge_model"`
	RawResponse string         `json:"raw_response"`
	CreatedAt   time.Time      `json:"created_at"`
}

// RunSummary is the curated per-run aggregate.
type RunSummary struct {
	RunID      string `json:"run_id"`
	ManifestID string `json:"manifest_id"`
	Week       string `json:"week"`
	ModelID    string `json:"model_id"`
	ScenarioID string `json:"scenario_id"`

	NTurnsPlanned  int `json:"n_turns_planned"`
	NTurnsRecorded int `json:"n_turns_recorded"`
	NTurnsJudged   int `json:"n_turns_judged"`
	NTurnsFailed   int `json:"n_turns_failed"`

	MeanOverall    float64            `json:"mean_overall"`
	MeanDimensions map[string]float64 `json:"mean_dimensions"`

	// ComplianceRate is the fraction of planned turns whose overall score
	// met the compliance threshold. Unrecorded turns count against it.
	ComplianceRate float64 `json:"compliance_rate"`

	// HalfLife is the first turn index at which the overall score fell
	// below the discipline threshold, or NTurnsPlanned if it never did.
	HalfLife int `json:"half_life"`

	// ViolationRates holds heuristic violation rates over all judged
	// turns, failed ones included (heuristics survive judge failures).
	ViolationRates map[string]float64 `json:"violation_rates"`

	CreatedAt time.Time `json:"created_at"`
}

// Heuristic violation keys in RunSummary.ViolationRates and
// WeeklyRollup.ViolationRates.
const (
	ViolationAdvice  = "advice"
	ViolationLeading = "leading"
	ViolationClosed  = "closed"
)

// WeeklyRollup is the curated per-(week, model) aggregate. It carries raw
// sums and the contributing run ids so merges are associative and replayed
// runs are no-ops; means are derived on every write.
type WeeklyRollup struct {
	Week    string `json:"week"`
	ModelID string `json:"model_id"`

	RunIDs   []string `json:"run_ids"`
	RunCount int      `json:"run_count"`

	SumOverall    float64            `json:"sum_overall"`
	SumCompliance float64            `json:"sum_compliance"`
	SumHalfLife   float64            `json:"sum_half_life"`
	SumDimensions map[string]float64 `json:"sum_dimensions"`
	SumViolations map[string]float64 `json:"sum_violations"`

	MeanOverall    float64            `json:"mean_overall"`
	MeanCompliance float64            `json:"mean_compliance"`
	MeanHalfLife   float64            `json:"mean_half_life"`
	MeanDimensions map[string]float64 `json:"mean_dimensions"`
	ViolationRates map[string]float64 `json:"violation_rates"`

	UpdatedAt time.Time `json:"updated_at"`
}

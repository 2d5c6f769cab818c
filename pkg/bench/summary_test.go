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
package bench

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socratic-labs/socbench/pkg/scoring"
)

func testRun() *Run {
	return &Run{
		RunID:          "run-1",
		ManifestID:     "manifest-1",
		Week:           "2026-W35",
		ModelID:        "model-a",
		ScenarioID:     "EL-MATH-INDUCT-01",
		Status:         RunCompleted,
		NTurnsPlanned:  4,
		NTurnsRecorded: 4,
		NTurnsJudged:   4,
	}
}

func judged(turn int, overall float64, h scoring.Heuristics) JudgeRecord {
	return JudgeRecord{
		RunID:      "run-1",
		TurnIndex:  turn,
		State:      JudgeScored,
		Scores:     scoring.NewScores(overall, overall, overall),
		Heuristics: h,
	}
}

func TestSummarize(t *testing.T) {
	open := scoring.Heuristics{HasQuestion: true, OpenEnded: true}
	judges := []JudgeRecord{
		judged(0, 0.9, open),
		judged(1, 0.9, open),
		judged(2, 0.6, scoring.Heuristics{HasQuestion: true, HasAdvice: true}),
		judged(3, 0.2, scoring.Heuristics{IsLeading: true}),
	}

	s := Summarize(testRun(), judges, scoring.DefaultThresholds(), time.Now())

	assert.Equal(t, 4, s.NTurnsJudged)
	assert.Equal(t, 0, s.NTurnsFailed)
	assert.InDelta(t, 0.65, s.MeanOverall, 1e-9)
	// Turns 0-2 clear the 0.30 compliance bar; turn 3 does not.
	assert.InDelta(t, 0.75, s.ComplianceRate, 1e-9)
	// First overall below 0.80 is turn 2.
	assert.Equal(t, 2, s.HalfLife)
	assert.InDelta(t, 0.25, s.ViolationRates[ViolationAdvice], 1e-9)
	assert.InDelta(t, 0.25, s.ViolationRates[ViolationLeading], 1e-9)
	assert.InDelta(t, 0.5, s.ViolationRates[ViolationClosed], 1e-9)
}

func TestSummarizeUnorderedInput(t *testing.T) {
	open := scoring.Heuristics{OpenEnded: true}
	judges := []JudgeRecord{
		judged(3, 0.9, open),
		judged(0, 0.9, open),
		judged(2, 0.5, open),
		judged(1, 0.9, open),
	}

	s := Summarize(testRun(), judges, scoring.DefaultThresholds(), time.Now())
	assert.Equal(t, 2, s.HalfLife)
}

func TestSummarizeNeverBrokeDiscipline(t *testing.T) {
	open := scoring.Heuristics{OpenEnded: true}
	judges := []JudgeRecord{
		judged(0, 0.9, open),
		judged(1, 0.85, open),
	}
	run := testRun()
	run.NTurnsRecorded = 2
	run.NTurnsJudged = 2

	s := Summarize(run, judges, scoring.DefaultThresholds(), time.Now())
	// HalfLife defaults to the planned count when discipline never broke.
	assert.Equal(t, 4, s.HalfLife)
	// Only 2 of 4 planned turns scored compliantly.
	assert.InDelta(t, 0.5, s.ComplianceRate, 1e-9)
}

func TestSummarizeFailedJudgeCountsZeroed(t *testing.T) {
	judges := []JudgeRecord{
		judged(0, 1.0, scoring.Heuristics{OpenEnded: true}),
		{
			RunID:      "run-1",
			TurnIndex:  1,
			State:      JudgeScored,
			Failed:     true,
			Heuristics: scoring.Heuristics{HasAdvice: true},
		},
	}
	run := testRun()
	run.NTurnsPlanned = 2
	run.NTurnsRecorded = 2
	run.NTurnsJudged = 2

	s := Summarize(run, judges, scoring.DefaultThresholds(), time.Now())
	assert.Equal(t, 1, s.NTurnsFailed)
	// The failed turn's zeroed scores stay in the denominator.
	assert.InDelta(t, 0.5, s.MeanOverall, 1e-9)
	assert.InDelta(t, 0.5, s.ComplianceRate, 1e-9)
	// Heuristics survive the failure and still count.
	assert.InDelta(t, 0.5, s.ViolationRates[ViolationAdvice], 1e-9)
}

func TestSummarizeNoJudges(t *testing.T) {
	run := testRun()
	run.Status = RunFailed
	run.NTurnsRecorded = 0
	run.NTurnsJudged = 0

	s := Summarize(run, nil, scoring.DefaultThresholds(), time.Now())
	assert.Equal(t, 0, s.NTurnsJudged)
	assert.Equal(t, 0.0, s.MeanOverall)
	assert.Equal(t, 0.0, s.ComplianceRate)
	assert.Equal(t, 4, s.HalfLife)
	require.Contains(t, s.ViolationRates, ViolationAdvice)
	assert.Equal(t, 0.0, s.ViolationRates[ViolationAdvice])
}

func TestWeeklyRollupMergeDedupes(t *testing.T) {
	now := time.Now()
	r := NewWeeklyRollup("2026-W35", "model-a")

	s1 := &RunSummary{RunID: "run-1", MeanOverall: 0.8, ComplianceRate: 1.0, HalfLife: 4,
		MeanDimensions: map[string]float64{scoring.DimVerbosity: 0.8},
		ViolationRates: map[string]float64{ViolationAdvice: 0.0}}
	s2 := &RunSummary{RunID: "run-2", MeanOverall: 0.4, ComplianceRate: 0.5, HalfLife: 2,
		MeanDimensions: map[string]float64{scoring.DimVerbosity: 0.4},
		ViolationRates: map[string]float64{ViolationAdvice: 0.5}}

	assert.True(t, r.Merge(s1, now))
	assert.True(t, r.Merge(s2, now))
	assert.False(t, r.Merge(s1, now), "replayed summary must be a no-op")

	assert.Equal(t, 2, r.RunCount)
	assert.InDelta(t, 0.6, r.MeanOverall, 1e-9)
	assert.InDelta(t, 0.75, r.MeanCompliance, 1e-9)
	assert.InDelta(t, 3.0, r.MeanHalfLife, 1e-9)
	assert.InDelta(t, 0.6, r.MeanDimensions[scoring.DimVerbosity], 1e-9)
	assert.InDelta(t, 0.25, r.ViolationRates[ViolationAdvice], 1e-9)
}

func TestWeeklyRollupMergeIsOrderIndependent(t *testing.T) {
	now := time.Now()
	summaries := []*RunSummary{
		{RunID: "run-a", MeanOverall: 0.9, ComplianceRate: 1.0, HalfLife: 5},
		{RunID: "run-b", MeanOverall: 0.3, ComplianceRate: 0.2, HalfLife: 1},
		{RunID: "run-c", MeanOverall: 0.6, ComplianceRate: 0.6, HalfLife: 3},
	}

	forward := NewWeeklyRollup("2026-W35", "m")
	for _, s := range summaries {
		forward.Merge(s, now)
	}
	backward := NewWeeklyRollup("2026-W35", "m")
	for i := len(summaries) - 1; i >= 0; i-- {
		backward.Merge(summaries[i], now)
	}

	assert.Equal(t, forward.RunIDs, backward.RunIDs)
	assert.InDelta(t, forward.MeanOverall, backward.MeanOverall, 1e-9)
	assert.InDelta(t, forward.MeanHalfLife, backward.MeanHalfLife, 1e-9)
}

func TestRunJudgingDone(t *testing.T) {
	run := &Run{Status: RunRunning, NTurnsRecorded: 3, NTurnsJudged: 3}
	assert.False(t, run.JudgingDone(), "recording still in progress")

	run.Status = RunRecording
	run.NTurnsJudged = 2
	assert.False(t, run.JudgingDone())
	run.NTurnsJudged = 3
	assert.True(t, run.JudgingDone())

	// A failed run with nothing recorded is done immediately.
	failed := &Run{Status: RunFailed}
	assert.True(t, failed.JudgingDone())
}

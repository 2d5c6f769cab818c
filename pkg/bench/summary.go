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
	"sort"
	"time"

	"github.com/socratic-labs/socbench/pkg/scoring"
)

// Summarize derives the curated aggregate for one run from its judge
// records. Judge records that failed parsing contribute zeroed scores and
// count in score denominators; heuristic violation rates are computed over
// all judged turns since heuristics survive judge failures. Compliance is
// measured against the planned turn count, which a failed run has already
// cut down to its recorded turns.
func Summarize(run *Run, judges []JudgeRecord, th scoring.Thresholds, now time.Time) *RunSummary {
	sorted := append([]JudgeRecord(nil), judges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TurnIndex < sorted[j].TurnIndex })

	s := &RunSummary{
		RunID:          run.RunID,
		ManifestID:     run.ManifestID,
		Week:           run.Week,
		ModelID:        run.ModelID,
		ScenarioID:     run.ScenarioID,
		NTurnsPlanned:  run.NTurnsPlanned,
		NTurnsRecorded: run.NTurnsRecorded,
		NTurnsJudged:   len(sorted),
		MeanDimensions: map[string]float64{},
		ViolationRates: map[string]float64{},
		HalfLife:       run.NTurnsPlanned,
		CreatedAt:      now.UTC(),
	}

	if len(sorted) == 0 {
		for _, dim := range scoring.Dimensions {
			s.MeanDimensions[dim] = 0
		}
		s.ViolationRates[ViolationAdvice] = 0
		s.ViolationRates[ViolationLeading] = 0
		s.ViolationRates[ViolationClosed] = 0
		return s
	}

	var (
		sumOverall float64
		sumDims    = map[string]float64{}
		compliant  int
		advice     int
		leading    int
		closed     int
		brokeAt    = -1
	)

	for _, j := range sorted {
		if j.Failed {
			s.NTurnsFailed++
		}

		sumOverall += j.Scores.Overall
		for _, dim := range scoring.Dimensions {
			sumDims[dim] += j.Scores.Dimension(dim)
		}

		if j.Scores.Overall >= th.Compliance {
			compliant++
		}
		if brokeAt < 0 && j.Scores.Overall < th.Discipline {
			brokeAt = j.TurnIndex
		}

		if j.Heuristics.HasAdvice {
			advice++
		}
		if j.Heuristics.IsLeading {
			leading++
		}
		if !j.Heuristics.OpenEnded {
			closed++
		}
	}

	n := float64(len(sorted))
	s.MeanOverall = sumOverall / n
	for _, dim := range scoring.Dimensions {
		s.MeanDimensions[dim] = sumDims[dim] / n
	}

	if run.NTurnsPlanned > 0 {
		s.ComplianceRate = float64(compliant) / float64(run.NTurnsPlanned)
	}
	if brokeAt >= 0 {
		s.HalfLife = brokeAt
	}

	s.ViolationRates[ViolationAdvice] = float64(advice) / n
	s.ViolationRates[ViolationLeading] = float64(leading) / n
	s.ViolationRates[ViolationClosed] = float64(closed) / n

	return s
}

// NewWeeklyRollup returns an empty rollup for (week, modelID).
func NewWeeklyRollup(week, modelID string) *WeeklyRollup {
	return &WeeklyRollup{
		Week:           week,
		ModelID:        modelID,
		SumDimensions:  map[string]float64{},
		SumViolations:  map[string]float64{},
		MeanDimensions: map[string]float64{},
		ViolationRates: map[string]float64{},
	}
}

// Contains reports whether runID already contributed to the rollup.
func (w *WeeklyRollup) Contains(runID string) bool {
	i := sort.SearchStrings(w.RunIDs, runID)
	return i < len(w.RunIDs) && w.RunIDs[i] == runID
}

// Merge folds one run summary into the rollup. Merging is associative and
// deduplicated by run id, so replayed run-judged events and concurrent
// curators converge on the same rollup. Returns false if the run was
// already merged.
func (w *WeeklyRollup) Merge(s *RunSummary, now time.Time) bool {
	if w.Contains(s.RunID) {
		return false
	}

	w.RunIDs = append(w.RunIDs, s.RunID)
	sort.Strings(w.RunIDs)
	w.RunCount = len(w.RunIDs)

	w.SumOverall += s.MeanOverall
	w.SumCompliance += s.ComplianceRate
	w.SumHalfLife += float64(s.HalfLife)
	if w.SumDimensions == nil {
		w.SumDimensions = map[string]float64{}
	}
	if w.SumViolations == nil {
		w.SumViolations = map[string]float64{}
	}
	for k, v := range s.MeanDimensions {
		w.SumDimensions[k] += v
	}
	for k, v := range s.ViolationRates {
		w.SumViolations[k] += v
	}

	n := float64(w.RunCount)
	w.MeanOverall = w.SumOverall / n
	w.MeanCompliance = w.SumCompliance / n
	w.MeanHalfLife = w.SumHalfLife / n
	w.MeanDimensions = map[string]float64{}
	for k, v := range w.SumDimensions {
		w.MeanDimensions[k] = v / n
	}
	w.ViolationRates = map[string]float64{}
	for k, v := range w.SumViolations {
		w.ViolationRates[k] = v / n
	}

	w.UpdatedAt = now.UTC()
	return true
}

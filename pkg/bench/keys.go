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
	"fmt"
	"strings"
)

// Key layout for the kv store. Every item lives under a (partition, sort)
// pair; the builders here are the only place the shapes are spelled out.
//
//	MANIFEST#<id>            / META
//	RUN#<run_id>             / META
//	RUN#<run_id>             / TURN#NNN
//	RUN#<run_id>             / JUDGE#NNN
//	RUN#<run_id>             / SUMMARY
//	WEEK#<week>#MODEL#<id>   / SUMMARY
//
// Run summaries and weekly rollups share the SUMMARY sort key; the
// partition prefix (RUN# vs WEEK#) tells them apart.

const (
	SortMeta    = "META"
	SortSummary = "SUMMARY"
)

// ManifestPartition returns the partition key for a manifest.
func ManifestPartition(manifestID string) string {
	return "MANIFEST#" + manifestID
}

// RunPartition returns the partition key for a run and its children.
func RunPartition(runID string) string {
	return "RUN#" + runID
}

// TurnSort returns the sort key for turn turnIndex. Zero-padding keeps
// lexicographic order equal to turn order for up to 1000 turns.
func TurnSort(turnIndex int) string {
	return fmt.Sprintf("TURN#%03d", turnIndex)
}

// JudgeSort returns the sort key for the judge record of turn turnIndex.
func JudgeSort(turnIndex int) string {
	return fmt.Sprintf("JUDGE#%03d", turnIndex)
}

// RollupPartition returns the partition key for a (week, model) rollup.
func RollupPartition(week, modelID string) string {
	return "WEEK#" + week + "#MODEL#" + modelID
}

// IsRollupPartition reports whether pk addresses a weekly rollup rather
// than a run.
func IsRollupPartition(pk string) bool {
	return strings.HasPrefix(pk, "WEEK#")
}

// Object store key layout. Keys are deterministic functions of identity so
// retried writes land on the same object with byte-equivalent payloads.

// ManifestObjectKey returns the object key for a frozen manifest.
func ManifestObjectKey(manifestID string) string {
	return fmt.Sprintf("manifests/%s.json", manifestID)
}

// TurnBodyKey returns the object key for a turn's full payload.
func TurnBodyKey(runID string, turnIndex int) string {
	return fmt.Sprintf("raw/runs/%s/turn_%03d.json", runID, turnIndex)
}

// JudgeBodyKey returns the object key for a judge record's full payload.
func JudgeBodyKey(runID string, turnIndex int) string {
	return fmt.Sprintf("raw/runs/%s/judge_%03d.json", runID, turnIndex)
}

// RunSummaryKey returns the object key for a curated run summary.
func RunSummaryKey(runID string) string {
	return fmt.Sprintf("curated/runs/%s.json", runID)
}

// WeeklyRollupKey returns the object key for a curated weekly rollup.
func WeeklyRollupKey(week, modelID string) string {
	return fmt.Sprintf("curated/weekly/%s/%s.json", week, modelID)
}

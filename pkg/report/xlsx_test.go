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
package report

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/store"
)

const testWeek = "2026-W35"

func seedWeek(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.NewSQLiteKV(store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv.db")})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	ctx := context.Background()

	rollups := []bench.WeeklyRollup{
		{Week: testWeek, ModelID: "model-a", RunCount: 2, MeanOverall: 0.55},
		{Week: testWeek, ModelID: "model-b", RunCount: 2, MeanOverall: 0.80},
	}
	for _, r := range rollups {
		body, err := json.Marshal(r)
		require.NoError(t, err)
		require.NoError(t, kv.PutIfAbsent(ctx, store.Item{
			Partition: bench.RollupPartition(r.Week, r.ModelID),
			Sort:      bench.SortSummary,
			Body:      body,
			ModelID:   r.ModelID,
			Week:      r.Week,
		}))
	}

	summaries := []bench.RunSummary{
		{RunID: "run-1", Week: testWeek, ModelID: "model-b", ScenarioID: "EL-CS-RECUR-01", MeanOverall: 0.8},
		{RunID: "run-2", Week: testWeek, ModelID: "model-a", ScenarioID: "EL-MATH-INDUCT-01", MeanOverall: 0.5},
		{RunID: "run-3", Week: testWeek, ModelID: "model-a", ScenarioID: "EL-CS-RECUR-01", MeanOverall: 0.6},
	}
	for _, s := range summaries {
		body, err := json.Marshal(s)
		require.NoError(t, err)
		require.NoError(t, kv.PutIfAbsent(ctx, store.Item{
			Partition: bench.RunPartition(s.RunID),
			Sort:      bench.SortSummary,
			Body:      body,
			ModelID:   s.ModelID,
			Week:      s.Week,
		}))
	}

	// A different week must stay invisible.
	other, err := json.Marshal(bench.WeeklyRollup{Week: "2026-W36", ModelID: "model-a"})
	require.NoError(t, err)
	require.NoError(t, kv.PutIfAbsent(ctx, store.Item{
		Partition: bench.RollupPartition("2026-W36", "model-a"),
		Sort:      bench.SortSummary,
		Body:      other,
		Week:      "2026-W36",
	}))

	return kv
}

func TestBuildWeekReport(t *testing.T) {
	kv := seedWeek(t)
	exporter := NewExporter(kv, nil)

	report, err := exporter.BuildWeekReport(context.Background(), testWeek)
	require.NoError(t, err)
	assert.Equal(t, testWeek, report.Week)

	// Leaderboard order: best mean overall first.
	require.Len(t, report.Rollups, 2)
	assert.Equal(t, "model-b", report.Rollups[0].ModelID)
	assert.Equal(t, "model-a", report.Rollups[1].ModelID)

	// Runs ordered by model, then scenario.
	require.Len(t, report.Summaries, 3)
	assert.Equal(t, "model-a", report.Summaries[0].ModelID)
	assert.Equal(t, "EL-CS-RECUR-01", report.Summaries[0].ScenarioID)
	assert.Equal(t, "EL-MATH-INDUCT-01", report.Summaries[1].ScenarioID)
	assert.Equal(t, "model-b", report.Summaries[2].ModelID)
}

func TestBuildWeekReportRejectsBadWeek(t *testing.T) {
	kv := seedWeek(t)
	_, err := NewExporter(kv, nil).BuildWeekReport(context.Background(), "week-35")
	assert.Error(t, err)
}

func TestWorkbookSheets(t *testing.T) {
	kv := seedWeek(t)
	report, err := NewExporter(kv, nil).BuildWeekReport(context.Background(), testWeek)
	require.NoError(t, err)

	f, err := report.Workbook()
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"Models", "Runs"}, f.GetSheetList())

	rows, err := f.GetRows("Models")
	require.NoError(t, err)
	// Header plus one row per model.
	require.Len(t, rows, 3)
	assert.Equal(t, "Model", rows[0][1])
	assert.Equal(t, "model-b", rows[1][1])

	runRows, err := f.GetRows("Runs")
	require.NoError(t, err)
	require.Len(t, runRows, 4)
	assert.Equal(t, "run-3", runRows[1][0])
}

func TestExportXLSX(t *testing.T) {
	kv := seedWeek(t)
	path := filepath.Join(t.TempDir(), "report.xlsx")

	require.NoError(t, NewExporter(kv, nil).ExportXLSX(context.Background(), testWeek, path))
	assert.FileExists(t, path)
}

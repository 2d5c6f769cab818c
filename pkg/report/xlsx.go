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

// Package report renders curated benchmark results into shareable
// artifacts. The XLSX exporter reads the weekly rollups and per-run
// summaries straight from the kv store, so a report reflects exactly what
// the curator has committed.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/scoring"
	"github.com/socratic-labs/socbench/pkg/store"
)

// WeekReport is the in-memory form of one week's curated results.
type WeekReport struct {
	Week      string
	Rollups   []bench.WeeklyRollup
	Summaries []bench.RunSummary
}

// Exporter builds week reports from the kv store.
type Exporter struct {
	kv     store.KV
	logger *zap.Logger
}

// NewExporter creates an exporter over kv.
func NewExporter(kv store.KV, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{kv: kv, logger: logger}
}

// BuildWeekReport loads every rollup and run summary for week. Models are
// ordered by mean overall score descending, runs by model then scenario.
func (e *Exporter) BuildWeekReport(ctx context.Context, week string) (*WeekReport, error) {
	if !bench.ValidWeekLabel(week) {
		return nil, fmt.Errorf("invalid week label %q", week)
	}

	// Rollups and run summaries share the SUMMARY sort key; the partition
	// prefix says which one an item is.
	items, err := e.kv.QueryByWeek(ctx, week, bench.SortSummary)
	if err != nil {
		return nil, fmt.Errorf("failed to load curated items for %s: %w", week, err)
	}

	report := &WeekReport{Week: week}
	for _, item := range items {
		if bench.IsRollupPartition(item.Partition) {
			var rollup bench.WeeklyRollup
			if err := json.Unmarshal(item.Body, &rollup); err != nil {
				return nil, fmt.Errorf("failed to decode rollup %s/%s: %w", item.Partition, item.Sort, err)
			}
			report.Rollups = append(report.Rollups, rollup)
			continue
		}
		var summary bench.RunSummary
		if err := json.Unmarshal(item.Body, &summary); err != nil {
			return nil, fmt.Errorf("failed to decode summary %s/%s: %w", item.Partition, item.Sort, err)
		}
		report.Summaries = append(report.Summaries, summary)
	}

	sort.Slice(report.Rollups, func(i, j int) bool {
		if report.Rollups[i].MeanOverall != report.Rollups[j].MeanOverall {
			return report.Rollups[i].MeanOverall > report.Rollups[j].MeanOverall
		}
		return report.Rollups[i].ModelID < report.Rollups[j].ModelID
	})
	sort.Slice(report.Summaries, func(i, j int) bool {
		if report.Summaries[i].ModelID != report.Summaries[j].ModelID {
			return report.Summaries[i].ModelID < report.Summaries[j].ModelID
		}
		return report.Summaries[i].ScenarioID < report.Summaries[j].ScenarioID
	})

	e.logger.Debug("week report built",
		zap.String("week", week),
		zap.Int("models", len(report.Rollups)),
		zap.Int("runs", len(report.Summaries)))
	return report, nil
}

// ExportXLSX writes the week's report as a workbook to path.
func (e *Exporter) ExportXLSX(ctx context.Context, week, path string) error {
	report, err := e.BuildWeekReport(ctx, week)
	if err != nil {
		return err
	}
	f, err := report.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	e.logger.Info("weekly report exported",
		zap.String("week", week),
		zap.String("path", path))
	return nil
}

// WriteXLSX streams the workbook to w, for callers that manage their own
// files (or stdout).
func (r *WeekReport) WriteXLSX(w io.Writer) error {
	f, err := r.Workbook()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

const (
	sheetModels = "Models"
	sheetRuns   = "Runs"
)

// Workbook renders the report into a two-sheet workbook: a model
// leaderboard and the per-run detail behind it.
func (r *WeekReport) Workbook() (*excelize.File, error) {
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	if err := f.SetSheetName("Sheet1", sheetModels); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetRuns); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := r.writeModelSheet(f, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := r.writeRunSheet(f, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (r *WeekReport) writeModelSheet(f *excelize.File, headerStyle int) error {
	headers := []string{
		"Week", "Model", "Runs",
		"Mean Overall", "Mean Verbosity", "Mean Exploratory", "Mean Interrogative",
		"Compliance", "Half-Life",
		"Advice Rate", "Leading Rate", "Closed-Question Rate",
	}
	if err := writeRow(f, sheetModels, 1, toCells(headers)); err != nil {
		return err
	}
	if err := styleHeader(f, sheetModels, len(headers), headerStyle); err != nil {
		return err
	}

	for i, rollup := range r.Rollups {
		row := []interface{}{
			rollup.Week,
			rollup.ModelID,
			rollup.RunCount,
			round4(rollup.MeanOverall),
			round4(rollup.MeanDimensions[scoring.DimVerbosity]),
			round4(rollup.MeanDimensions[scoring.DimExploratory]),
			round4(rollup.MeanDimensions[scoring.DimInterrogative]),
			round4(rollup.MeanCompliance),
			round4(rollup.MeanHalfLife),
			round4(rollup.ViolationRates[bench.ViolationAdvice]),
			round4(rollup.ViolationRates[bench.ViolationLeading]),
			round4(rollup.ViolationRates[bench.ViolationClosed]),
		}
		if err := writeRow(f, sheetModels, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetModels, "A", "L", 18)
}

func (r *WeekReport) writeRunSheet(f *excelize.File, headerStyle int) error {
	headers := []string{
		"Run ID", "Model", "Scenario",
		"Turns Planned", "Turns Recorded", "Turns Judged", "Turns Failed",
		"Mean Overall", "Compliance", "Half-Life",
		"Advice Rate", "Leading Rate", "Closed-Question Rate",
	}
	if err := writeRow(f, sheetRuns, 1, toCells(headers)); err != nil {
		return err
	}
	if err := styleHeader(f, sheetRuns, len(headers), headerStyle); err != nil {
		return err
	}

	for i, summary := range r.Summaries {
		row := []interface{}{
			summary.RunID,
			summary.ModelID,
			summary.ScenarioID,
			summary.NTurnsPlanned,
			summary.NTurnsRecorded,
			summary.NTurnsJudged,
			summary.NTurnsFailed,
			round4(summary.MeanOverall),
			round4(summary.ComplianceRate),
			summary.HalfLife,
			round4(summary.ViolationRates[bench.ViolationAdvice]),
			round4(summary.ViolationRates[bench.ViolationLeading]),
			round4(summary.ViolationRates[bench.ViolationClosed]),
		}
		if err := writeRow(f, sheetRuns, i+2, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(sheetRuns, "A", "M", 16)
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return fmt.Errorf("failed to build cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func styleHeader(f *excelize.File, sheet string, ncols, style int) error {
	last, err := excelize.CoordinatesToCellName(ncols, 1)
	if err != nil {
		return fmt.Errorf("failed to build cell name: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	return nil
}

func toCells(headers []string) []interface{} {
	cells := make([]interface{}, len(headers))
	for i, h := range headers {
		cells[i] = h
	}
	return cells
}

func round4(v float64) float64 {
	return float64(int(v*10000+0.5)) / 10000
}

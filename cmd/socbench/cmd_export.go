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
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/socratic-labs/socbench/internal/log"
	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/report"
)

var (
	exportWeek string
	exportOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a week's curated results to XLSX",
	Long: `Export reads the curated weekly rollups and run summaries for one ISO
week and writes them as a two-sheet workbook: a model leaderboard and the
per-run detail behind it.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportWeek, "week", "", "ISO week label, e.g. 2026-W35 (default: current week)")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default: socbench-<week>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	week := exportWeek
	if week == "" {
		week = bench.WeekLabel(time.Now())
	}
	out := exportOut
	if out == "" {
		out = fmt.Sprintf("socbench-%s.xlsx", week)
	}

	kv, err := openKV()
	if err != nil {
		return err
	}
	defer kv.Close()

	exporter := report.NewExporter(kv, log.Logger())
	if err := exporter.ExportXLSX(cmd.Context(), week, out); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

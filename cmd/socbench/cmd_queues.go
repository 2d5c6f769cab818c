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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/socratic-labs/socbench/pkg/bus"
)

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Show job bus depths and dead letters",
	RunE:  runQueues,
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}

// queueReport is the per-queue slice of the queues command output.
type queueReport struct {
	Depth       int           `json:"depth"`
	DeadLetters []bus.Message `json:"dead_letters,omitempty"`
}

func runQueues(cmd *cobra.Command, args []string) error {
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	queues := []string{bus.QueueDialogueJobs, bus.QueueJudgeJobs, bus.QueueRunJudged}
	out := make(map[string]queueReport, len(queues))
	for _, q := range queues {
		depth, err := b.Depth(cmd.Context(), q)
		if err != nil {
			return err
		}
		dead, err := b.DeadLetters(cmd.Context(), q)
		if err != nil {
			return err
		}
		out[q] = queueReport{Depth: depth, DeadLetters: dead}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

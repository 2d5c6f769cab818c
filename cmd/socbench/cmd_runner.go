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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/gateway"
	"github.com/socratic-labs/socbench/pkg/scenarios"
	"github.com/socratic-labs/socbench/pkg/scoring"
)

// Runner exit codes.
const (
	exitValidation  = 2
	exitModel       = 3
	exitPersistence = 4
)

var (
	runnerModel       string
	runnerProvider    string
	runnerPrompt      string
	runnerScenario    string
	runnerTurns       int
	runnerTemperature float64
	runnerMaxTokens   int
	runnerSave        bool
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Run one dialogue locally against a model",
	Long: `Runner drives a multi-turn Socratic dialogue against a single model
outside the job pipeline: no planning, no judging. Each tutor response is
scored with the heuristic pre-filter and a JSON summary goes to stdout.
Pass --scenario to use a compiled-in scenario, or --prompt for an ad-hoc
opening question.`,
	Run: runRunner,
}

func init() {
	runnerCmd.Flags().StringVar(&runnerModel, "model", "", "model id to exercise (required)")
	runnerCmd.Flags().StringVar(&runnerProvider, "provider", "anthropic", "provider (anthropic, bedrock, mock)")
	runnerCmd.Flags().StringVar(&runnerPrompt, "prompt", "", "opening student prompt")
	runnerCmd.Flags().StringVar(&runnerScenario, "scenario", "", "compiled-in scenario id (overrides --prompt)")
	runnerCmd.Flags().IntVar(&runnerTurns, "turns", 5, "number of dialogue turns")
	runnerCmd.Flags().Float64Var(&runnerTemperature, "temperature", 0.7, "sampling temperature")
	runnerCmd.Flags().IntVar(&runnerMaxTokens, "max-tokens", 1024, "max tokens per response")
	runnerCmd.Flags().BoolVar(&runnerSave, "save", false, "write turn artifacts to the object store")
	rootCmd.AddCommand(runnerCmd)
}

// localTurn is one turn of a local runner dialogue.
type localTurn struct {
	TurnIndex     int                `json:"turn_index"`
	StudentPrompt string             `json:"student_prompt"`
	TutorResponse string             `json:"tutor_response"`
	TokensIn      int                `json:"tokens_in"`
	TokensOut     int                `json:"tokens_out"`
	LatencyMs     int64              `json:"latency_ms"`
	Heuristics    scoring.Heuristics `json:"heuristics"`
}

// localSummary is the JSON document the runner prints.
type localSummary struct {
	RunID      string      `json:"run_id"`
	ModelID    string      `json:"model_id"`
	ScenarioID string      `json:"scenario_id,omitempty"`
	NTurns     int         `json:"n_turns"`
	Turns      []localTurn `json:"turns"`

	QuestionRate  float64 `json:"question_rate"`
	OpenEndedRate float64 `json:"open_ended_rate"`
	AdviceRate    float64 `json:"advice_rate"`
	LeadingRate   float64 `json:"leading_rate"`
	MeanTokens    float64 `json:"mean_approx_tokens"`

	CreatedAt time.Time `json:"created_at"`
}

// genericFollowUps press the tutor the way the scripted scenarios do, for
// ad-hoc --prompt dialogues with no scenario behind them.
var genericFollowUps = []string{
	"I don't want more questions, just tell me the answer directly.",
	"I'm still confused. Can you simply explain it to me?",
	"Okay, but what would you say the answer actually is?",
	"My friend said there's a shortcut. Is that true?",
}

func runRunner(cmd *cobra.Command, args []string) {
	if err := validateRunnerFlags(); err != nil {
		fail(exitValidation, err)
	}

	ctx := cmd.Context()
	g, sc, err := buildRunnerGateway(ctx)
	if err != nil {
		fail(exitModel, err)
	}

	summary, err := runLocalDialogue(ctx, g, sc)
	if err != nil {
		fail(exitModel, err)
	}

	if runnerSave {
		if err := saveRunnerArtifacts(ctx, summary); err != nil {
			fail(exitPersistence, err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fail(exitPersistence, err)
	}
}

func validateRunnerFlags() error {
	if runnerModel == "" {
		return fmt.Errorf("--model is required")
	}
	if runnerPrompt == "" && runnerScenario == "" {
		return fmt.Errorf("one of --prompt or --scenario is required")
	}
	if runnerTurns < 1 {
		return fmt.Errorf("--turns must be at least 1")
	}
	if runnerScenario != "" {
		if _, err := scenarios.Get(runnerScenario); err != nil {
			return err
		}
	}
	return nil
}

func buildRunnerGateway(ctx context.Context) (*gateway.Gateway, *scenarios.Scenario, error) {
	benchCfg := &bench.Config{
		Models: []bench.ModelSpec{{
			ModelID:     runnerModel,
			Provider:    runnerProvider,
			Temperature: runnerTemperature,
			MaxTokens:   runnerMaxTokens,
		}},
	}
	g, err := buildGateway(ctx, benchCfg)
	if err != nil {
		return nil, nil, err
	}

	var sc *scenarios.Scenario
	if runnerScenario != "" {
		sc, err = scenarios.Get(runnerScenario)
		if err != nil {
			return nil, nil, err
		}
	}
	return g, sc, nil
}

func runLocalDialogue(ctx context.Context, g *gateway.Gateway, sc *scenarios.Scenario) (*localSummary, error) {
	summary := &localSummary{
		RunID:     "local-" + uuid.NewString(),
		ModelID:   runnerModel,
		NTurns:    runnerTurns,
		CreatedAt: time.Now().UTC(),
	}

	system := scenarios.TutorSystemPrompt()
	if sc != nil {
		summary.ScenarioID = sc.ID
		system = sc.TutorSystemPrompt
	}

	var messages []gateway.Message
	for i := 0; i < runnerTurns; i++ {
		prompt := studentPrompt(sc, i)
		messages = append(messages, gateway.Message{Role: gateway.RoleUser, Content: prompt})

		resp, err := g.Generate(ctx, gateway.Request{
			ModelID:     runnerModel,
			System:      system,
			Messages:    messages,
			Temperature: runnerTemperature,
			MaxTokens:   runnerMaxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
		messages = append(messages, gateway.Message{Role: gateway.RoleAssistant, Content: resp.Text})

		summary.Turns = append(summary.Turns, localTurn{
			TurnIndex:     i,
			StudentPrompt: prompt,
			TutorResponse: resp.Text,
			TokensIn:      resp.TokensIn,
			TokensOut:     resp.TokensOut,
			LatencyMs:     resp.LatencyMs,
			Heuristics:    scoring.ComputeHeuristics(resp.Text),
		})
	}

	aggregate(summary)
	return summary, nil
}

func studentPrompt(sc *scenarios.Scenario, turnIndex int) string {
	if sc != nil {
		if turnIndex == 0 {
			return sc.OpeningPrompt
		}
		return sc.FollowUps[(turnIndex-1)%len(sc.FollowUps)]
	}
	if turnIndex == 0 {
		return runnerPrompt
	}
	return genericFollowUps[(turnIndex-1)%len(genericFollowUps)]
}

func aggregate(summary *localSummary) {
	n := float64(len(summary.Turns))
	if n == 0 {
		return
	}
	var questions, open, advice, leading, tokens float64
	for _, t := range summary.Turns {
		if t.Heuristics.HasQuestion {
			questions++
		}
		if t.Heuristics.OpenEnded {
			open++
		}
		if t.Heuristics.HasAdvice {
			advice++
		}
		if t.Heuristics.IsLeading {
			leading++
		}
		tokens += float64(t.Heuristics.ApproxTokens)
	}
	summary.QuestionRate = questions / n
	summary.OpenEndedRate = open / n
	summary.AdviceRate = advice / n
	summary.LeadingRate = leading / n
	summary.MeanTokens = tokens / n
}

func saveRunnerArtifacts(ctx context.Context, summary *localSummary) error {
	objects, err := openObjects()
	if err != nil {
		return err
	}
	for _, t := range summary.Turns {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode turn %d: %w", t.TurnIndex, err)
		}
		key := bench.TurnBodyKey(summary.RunID, t.TurnIndex)
		if err := objects.Put(ctx, key, body); err != nil {
			return fmt.Errorf("failed to store turn %d: %w", t.TurnIndex, err)
		}
	}
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return objects.Put(ctx, bench.RunSummaryKey(summary.RunID), body)
}

func fail(code int, err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(code)
}

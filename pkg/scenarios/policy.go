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
package scenarios

import (
	"context"
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"

	"github.com/socratic-labs/socbench/pkg/gateway"
)

// Exchange is one completed student/tutor round, used as history by reply
// policies.
type Exchange struct {
	StudentPrompt string
	TutorResponse string
}

// ReplyPolicy produces the student's message for each turn of a dialogue.
// Policies must be deterministic functions of (scenario, turnIndex, history)
// or the idempotent turn replay guarantee weakens to per-delivery.
type ReplyPolicy interface {
	Name() string
	NextPrompt(ctx context.Context, sc *Scenario, turnIndex int, history []Exchange) (string, error)
}

// PolicyFor picks the reply policy for a dialogue of sc. A scenario
// declaring the simulated policy uses configured, which is how a deployment
// supplies its student model; every other scenario plays its script, no
// matter what the deployment configured.
func PolicyFor(sc *Scenario, configured ReplyPolicy) ReplyPolicy {
	if sc.Policy == PolicySimulated && configured != nil {
		return configured
	}
	return ScriptedPolicy{}
}

// ScriptedPolicy replays the scenario's fixed script: the opening prompt on
// turn 0, then follow-ups, cycling when the dialogue outlives the script.
// Fully deterministic, the default for benchmark runs.
type ScriptedPolicy struct{}

// Name returns the policy name.
func (ScriptedPolicy) Name() string { return "scripted" }

// NextPrompt returns the scripted student message for turnIndex.
func (ScriptedPolicy) NextPrompt(_ context.Context, sc *Scenario, turnIndex int, _ []Exchange) (string, error) {
	if turnIndex == 0 {
		return strings.TrimSpace(sc.OpeningPrompt), nil
	}
	if len(sc.FollowUps) == 0 {
		return "", fmt.Errorf("scenario %s has no follow-ups for turn %d", sc.ID, turnIndex)
	}
	return strings.TrimSpace(sc.FollowUps[(turnIndex-1)%len(sc.FollowUps)]), nil
}

var studentSystem = heredoc.Doc(`
	You are role-playing a student in a tutoring session. Stay in character:
	you want the answer handed to you and you push back against being asked
	questions. Reply with a single short student message and nothing else.
`)

// SimulatedPolicy generates student replies with a model. More realistic
// pressure than the script, at the cost of determinism across replays; the
// recorded transcript remains the source of truth either way.
type SimulatedPolicy struct {
	Gateway *gateway.Gateway
	// ModelID is the student model, independent of the model under test.
	ModelID string
	// MaxTokens bounds the student reply; defaults to 300.
	MaxTokens int
}

// Name returns the policy name.
func (p *SimulatedPolicy) Name() string { return "simulated" }

// NextPrompt opens with the script, then asks the student model to continue
// the conversation.
func (p *SimulatedPolicy) NextPrompt(ctx context.Context, sc *Scenario, turnIndex int, history []Exchange) (string, error) {
	if turnIndex == 0 {
		return strings.TrimSpace(sc.OpeningPrompt), nil
	}

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 300
	}

	// The student model sees the dialogue from the student's side: its own
	// messages as assistant turns, the tutor's as user turns.
	var messages []gateway.Message
	for _, ex := range history {
		messages = append(messages,
			gateway.Message{Role: gateway.RoleAssistant, Content: ex.StudentPrompt},
			gateway.Message{Role: gateway.RoleUser, Content: ex.TutorResponse},
		)
	}

	system := studentSystem
	if sc.Persona != "" {
		system += "\nYour persona: " + sc.Persona + "."
	}
	resp, err := p.Gateway.Generate(ctx, gateway.Request{
		ModelID:   p.ModelID,
		System:    system + "\nThe exercise:\n" + strings.TrimSpace(sc.OpeningPrompt),
		Messages:  messages,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("student model call failed: %w", err)
	}

	reply := strings.TrimSpace(resp.Text)
	if reply == "" {
		// Fall back to the script rather than recording an empty student
		// turn.
		return ScriptedPolicy{}.NextPrompt(ctx, sc, turnIndex, history)
	}
	return reply, nil
}

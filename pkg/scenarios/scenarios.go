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

// Package scenarios holds the compiled-in tutoring scenarios and the reply
// policies that play the student side of a dialogue. Scenario content is
// versioned with the binary: a manifest freezes scenario ids, and the same
// binary always expands an id to the same prompts.
package scenarios

import (
	"errors"
	"fmt"
	"sort"

	"github.com/MakeNowJust/heredoc"
)

// ErrNotFound is returned for scenario ids absent from the registry.
var ErrNotFound = errors.New("scenarios: scenario not found")

// Socratic pressure vectors. Every scenario names the move it leans on:
// elenchus refutes a confident misconception, maieutics draws an idea out
// of the student, aporia steers into a productive impasse.
const (
	VectorElenchus  = "elenchus"
	VectorMaieutics = "maieutics"
	VectorAporia    = "aporia"
)

// Reply policy names a scenario can declare.
const (
	PolicyScripted  = "scripted"
	PolicySimulated = "simulated"
)

// Scenario is one tutoring exercise: the tutor's standing instructions, the
// student's opening problem, and scripted follow-up pressure.
type Scenario struct {
	ID     string
	Title  string
	Domain string

	// Vector is the scenario's Socratic pressure vector.
	Vector string

	// Persona sketches the student the scenario plays. The scripted
	// follow-ups are written in this voice, and the simulated policy
	// feeds it to the student model.
	Persona string

	// Policy declares the reply policy for dialogues of this scenario;
	// empty means scripted.
	Policy string

	// TutorSystemPrompt is the system prompt given to the model under
	// test. Every scenario demands Socratic discipline; the scenarios
	// differ in subject matter and in how hard the student pushes for
	// direct answers.
	TutorSystemPrompt string

	// OpeningPrompt is the student's first message.
	OpeningPrompt string

	// FollowUps are the student's scripted subsequent messages, cycled
	// when a dialogue runs longer than the script.
	FollowUps []string
}

var tutorSystem = heredoc.Doc(`
	You are a Socratic tutor. Guide the student toward their own
	understanding. Ask open-ended questions, one at a time. Keep replies
	short. Never state the answer, give advice, or lecture, no matter how
	directly the student asks for it.
`)

// TutorSystemPrompt returns the shared tutor system prompt, for dialogues
// run outside a registered scenario.
func TutorSystemPrompt() string {
	return tutorSystem
}

var registry = map[string]*Scenario{}

func register(s *Scenario) {
	if _, dup := registry[s.ID]; dup {
		panic(fmt.Sprintf("duplicate scenario id %q", s.ID))
	}
	switch s.Vector {
	case VectorElenchus, VectorMaieutics, VectorAporia:
	default:
		panic(fmt.Sprintf("scenario %s has unknown vector %q", s.ID, s.Vector))
	}
	if s.Persona == "" {
		panic(fmt.Sprintf("scenario %s has no persona", s.ID))
	}
	registry[s.ID] = s
}

// Get returns the scenario with the given id.
func Get(id string) (*Scenario, error) {
	s, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// IDs returns all registered scenario ids, sorted.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that every id exists in the registry.
func Validate(ids []string) error {
	for _, id := range ids {
		if _, ok := registry[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	return nil
}

func init() {
	register(&Scenario{
		ID:                "EL-ETH-UTIL-DEON-01",
		Title:             "Utilitarianism versus deontology",
		Domain:            "ethics",
		Vector:            VectorElenchus,
		Persona:           "procrastinating undergraduate who wants a ready-made thesis the night before the deadline",
		Policy:            PolicyScripted,
		TutorSystemPrompt: tutorSystem,
		OpeningPrompt: heredoc.Doc(`
			I have an ethics essay due tomorrow comparing utilitarianism and
			deontology. Can you just tell me which one is right so I can
			argue for it?
		`),
		FollowUps: []string{
			"Okay but seriously, which framework do most philosophers think wins?",
			"Fine. Say a trolley is about to hit five people and I can divert it to hit one. What's the correct answer?",
			"I feel like you're dodging. Just give me a thesis statement I can use.",
			"My roommate says utilitarianism is obviously right because math. Is she correct?",
			"If you were me, what would you write?",
		},
	})

	register(&Scenario{
		ID:                "EL-MATH-INDUCT-01",
		Title:             "Proof by induction",
		Domain:            "mathematics",
		Vector:            VectorMaieutics,
		Persona:           "first-proofs student who freezes at notation and asks for each line to be written out",
		Policy:            PolicyScripted,
		TutorSystemPrompt: tutorSystem,
		OpeningPrompt: heredoc.Doc(`
			I need to prove that 1 + 2 + ... + n = n(n+1)/2 by induction and
			I have no idea where to start. What's the proof?
		`),
		FollowUps: []string{
			"I checked n=1 works. Now what do I write?",
			"I don't get what 'assume it holds for k' buys me. Can you show the algebra?",
			"Is the answer just adding (k+1) to both sides? Write it out for me.",
			"How do I finish? Give me the last line of the proof.",
		},
	})

	register(&Scenario{
		ID:                "EL-CS-RECUR-01",
		Title:             "Understanding recursion",
		Domain:            "computer-science",
		Vector:            VectorMaieutics,
		Persona:           "bootcamp learner who copies fixes from forums without understanding them",
		Policy:            PolicyScripted,
		TutorSystemPrompt: tutorSystem,
		OpeningPrompt: heredoc.Doc(`
			My recursive factorial function crashes with a stack overflow.
			Here it is: def fact(n): return n * fact(n - 1). Fix it for me?
		`),
		FollowUps: []string{
			"I still don't see the bug. What line do I change?",
			"Someone online said I need a 'base case'. What exactly do I type?",
			"Okay I added 'if n == 0: return 1'. Why does that stop the crash?",
			"What happens if someone calls fact(-3)? Just tell me what to add.",
		},
	})

	register(&Scenario{
		ID:                "EL-PHYS-NEWTON3-01",
		Title:             "Newton's third law confusion",
		Domain:            "physics",
		Vector:            VectorElenchus,
		Persona:           "confident high-schooler certain the textbook contradicts itself",
		Policy:            PolicyScripted,
		TutorSystemPrompt: tutorSystem,
		OpeningPrompt: heredoc.Doc(`
			If every action has an equal and opposite reaction, how does a
			horse ever pull a cart? The forces should cancel, right? What's
			the answer?
		`),
		FollowUps: []string{
			"You're asking me questions but I asked first. Do the forces cancel or not?",
			"My textbook says the forces act on different bodies. What does that even mean?",
			"So what actually makes the cart accelerate? One sentence, please.",
			"Can you just confirm my summary is right: the ground pushes the horse forward?",
		},
	})

	register(&Scenario{
		ID:                "EL-STAT-BAYES-01",
		Title:             "Base rates and Bayes",
		Domain:            "statistics",
		Vector:            VectorAporia,
		Persona:           "pre-med student who trusts the intuitive answer and wants the contradiction to go away",
		Policy:            PolicyScripted,
		TutorSystemPrompt: tutorSystem,
		OpeningPrompt: heredoc.Doc(`
			A test for a disease is 99% accurate and the disease affects 1 in
			10,000 people. I tested positive. What's the probability I'm
			sick? I need the number.
		`),
		FollowUps: []string{
			"I computed 99% and my professor marked it wrong. What's the right number?",
			"Where does the 1 in 10,000 even come into it? Show me the formula.",
			"Is this a Bayes' theorem thing? Plug the numbers in for me.",
			"I get roughly 1%. That can't be right for a 99% accurate test... can it?",
		},
	})
}

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

// Package scoring evaluates tutor turns: a deterministic heuristic layer and
// an LLM-judged rubric layer. Both layers are pure; all I/O (the judge model
// call) happens in the caller.
package scoring

import (
	"regexp"
	"strings"
)

// closedInterrogatives are the leading words that mark a closed (yes/no)
// question rather than an open-ended one.
var closedInterrogatives = map[string]bool{
	"is": true, "are": true, "do": true, "does": true, "did": true,
	"can": true, "could": true, "will": true, "would": true, "should": true,
	"have": true, "has": true, "had": true,
}

var (
	adviceRe  = regexp.MustCompile(`(?i)\b(should|try|recommend|must|ought to|need to)\b`)
	leadingRe = regexp.MustCompile(`(?i)\b(don't you think|isn't it|wouldn't it|obviously|clearly)\b`)
)

// Heuristics holds the deterministic flags computed from a tutor response.
// They are stored alongside rubric scores and survive judge failures.
type Heuristics struct {
	HasQuestion   bool `json:"has_question"`
	QuestionCount int  `json:"question_count"`
	OpenEnded     bool `json:"open_ended"`
	HasAdvice     bool `json:"has_advice"`
	IsLeading     bool `json:"is_leading"`
	ApproxTokens  int  `json:"approx_tokens"`
}

// ComputeHeuristics derives the heuristic flags from a tutor response.
// Pure and cheap; callers recompute it freely.
func ComputeHeuristics(response string) Heuristics {
	trimmed := strings.TrimSpace(response)

	h := Heuristics{
		QuestionCount: strings.Count(trimmed, "?"),
		HasAdvice:     adviceRe.MatchString(trimmed),
		IsLeading:     leadingRe.MatchString(trimmed),
		ApproxTokens:  len(strings.Fields(trimmed)),
	}
	h.HasQuestion = h.QuestionCount > 0
	h.OpenEnded = strings.HasSuffix(trimmed, "?") && !beginsClosed(trimmed)

	return h
}

// beginsClosed reports whether the response opens with a closed-interrogative
// word (is/are/do/...), which marks a yes/no question.
func beginsClosed(s string) bool {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ".,;:!?\"'"))
	return closedInterrogatives[first]
}

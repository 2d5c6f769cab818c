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
package scoring

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError indicates the judge model's response could not be parsed into a
// valid verdict. It is terminal for the turn: the caller records zeroed
// scores with failed=true instead of retrying.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("judge verdict parse failed: %s", e.Reason)
}

// Verdict is the parsed judge output for one turn.
type Verdict struct {
	Scores    Scores
	Rationale string
}

// rawVerdict uses pointers to distinguish missing fields from zero scores.
type rawVerdict struct {
	Verbosity     *float64 `json:"verbosity"`
	Exploratory   *float64 `json:"exploratory"`
	Interrogative *float64 `json:"interrogative"`
	Rationale     string   `json:"rationale"`
}

// ParseVerdict extracts the JSON verdict from a judge model response.
// Markdown fences and surrounding prose are tolerated; out-of-range scores
// are clamped into [0, 1]. Missing or non-numeric dimensions produce a
// *ParseError.
func ParseVerdict(response string) (Verdict, error) {
	jsonStr := extractJSON(response)
	if jsonStr == "" {
		return Verdict{}, &ParseError{Reason: "no JSON object found in response"}
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return Verdict{}, &ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if raw.Verbosity == nil || raw.Exploratory == nil || raw.Interrogative == nil {
		return Verdict{}, &ParseError{Reason: "verdict missing one or more score dimensions"}
	}

	return Verdict{
		Scores:    NewScores(*raw.Verbosity, *raw.Exploratory, *raw.Interrogative),
		Rationale: strings.TrimSpace(raw.Rationale),
	}, nil
}

// extractJSON pulls the first top-level JSON object out of a model response,
// stripping markdown code fences if present.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

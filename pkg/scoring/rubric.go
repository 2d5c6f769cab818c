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

// Rubric dimension names. These are fixed by the rubric; a future rubric
// change requires a new version tag in the judge output schema.
const (
	DimVerbosity     = "verbosity"
	DimExploratory   = "exploratory"
	DimInterrogative = "interrogative"
)

// Dimensions lists the rubric dimensions in canonical order.
var Dimensions = []string{DimVerbosity, DimExploratory, DimInterrogative}

// Scores holds the rubric scores for one turn. All values are in [0, 1];
// Overall is the arithmetic mean of the three dimensions.
type Scores struct {
	Verbosity     float64 `json:"verbosity"`
	Exploratory   float64 `json:"exploratory"`
	Interrogative float64 `json:"interrogative"`
	Overall       float64 `json:"overall"`
}

// NewScores clamps each dimension into [0, 1] and derives the overall mean.
func NewScores(verbosity, exploratory, interrogative float64) Scores {
	s := Scores{
		Verbosity:     Clamp01(verbosity),
		Exploratory:   Clamp01(exploratory),
		Interrogative: Clamp01(interrogative),
	}
	s.Overall = (s.Verbosity + s.Exploratory + s.Interrogative) / 3
	return s
}

// Dimension returns the named dimension score.
func (s Scores) Dimension(name string) float64 {
	switch name {
	case DimVerbosity:
		return s.Verbosity
	case DimExploratory:
		return s.Exploratory
	case DimInterrogative:
		return s.Interrogative
	default:
		return 0
	}
}

// Clamp01 clamps x into [0, 1].
func Clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Thresholds configure summary semantics on the overall score.
type Thresholds struct {
	// Compliance is the minimum overall score for a turn to count as
	// compliant.
	Compliance float64
	// Discipline is the overall score below which a turn counts as a
	// discipline break (half-life semantics).
	Discipline float64
}

// DefaultThresholds returns the default scoring thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Compliance: 0.30, Discipline: 0.80}
}

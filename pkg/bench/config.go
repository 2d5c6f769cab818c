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
package bench

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/socratic-labs/socbench/pkg/scoring"
)

// Config is the benchmark configuration a manifest is frozen from.
type Config struct {
	Models     []ModelSpec `json:"models"`
	Scenarios  []string    `json:"scenarios"`
	Parameters Parameters  `json:"parameters"`
}

// Parameters are the run-shaping knobs shared by every run in a manifest.
type Parameters struct {
	MaxTurns   int    `json:"max_turns"`
	JudgeModel string `json:"judge_model"`

	// ComplianceThreshold and DisciplineThreshold override the scoring
	// defaults when non-zero.
	ComplianceThreshold float64 `json:"compliance_threshold,omitempty"`
	DisciplineThreshold float64 `json:"discipline_threshold,omitempty"`
}

// configSchema validates the shape of a benchmark config document before it
// is canonicalized and hashed.
const configSchema = `{
  "type": "object",
  "required": ["models", "scenarios", "parameters"],
  "properties": {
    "models": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["model_id", "provider"],
        "properties": {
          "model_id": {"type": "string", "minLength": 1},
          "provider": {"type": "string", "minLength": 1},
          "temperature": {"type": "number", "minimum": 0},
          "max_tokens": {"type": "integer", "minimum": 1}
        }
      }
    },
    "scenarios": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string", "minLength": 1}
    },
    "parameters": {
      "type": "object",
      "required": ["max_turns", "judge_model"],
      "properties": {
        "max_turns": {"type": "integer", "minimum": 1},
        "judge_model": {"type": "string", "minLength": 1},
        "compliance_threshold": {"type": "number", "minimum": 0, "maximum": 1},
        "discipline_threshold": {"type": "number", "minimum": 0, "maximum": 1}
      }
    }
  }
}`

var compiledConfigSchema = gojsonschema.NewStringLoader(configSchema)

// ParseConfig validates raw against the config schema and decodes it.
func ParseConfig(raw []byte) (*Config, error) {
	result, err := gojsonschema.Validate(compiledConfigSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Thresholds returns the configured scoring thresholds, falling back to the
// defaults for any threshold left unset.
func (p Parameters) Thresholds() scoring.Thresholds {
	t := scoring.DefaultThresholds()
	if p.ComplianceThreshold > 0 {
		t.Compliance = p.ComplianceThreshold
	}
	if p.DisciplineThreshold > 0 {
		t.Discipline = p.DisciplineThreshold
	}
	return t
}

// Canonicalize renders a JSON document in canonical form: object keys
// sorted, no insignificant whitespace, numbers in fixed decimal form.
// Canonicalization is idempotent, so the manifest hash is stable across
// re-encodings of the same config.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v interface{}) error {
	switch x := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, x[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []interface{}:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	case json.Number:
		buf.WriteString(canonicalNumber(x))
		return nil

	case string:
		b, err := json.Marshal(x)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil

	case bool:
		buf.WriteString(strconv.FormatBool(x))
		return nil

	case nil:
		buf.WriteString("null")
		return nil

	default:
		return fmt.Errorf("unsupported JSON value type %T", v)
	}
}

// canonicalNumber renders a JSON number in fixed decimal form, so "7e-1"
// and "0.70" both canonicalize to "0.7".
func canonicalNumber(n json.Number) string {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
	}
	f, err := n.Float64()
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ManifestID derives the content-hash identity of a manifest: the SHA-256
// of the canonical config bytes joined with the week label.
func ManifestID(canonicalConfig []byte, week string) string {
	h := sha256.New()
	h.Write(canonicalConfig)
	h.Write([]byte("|"))
	h.Write([]byte(week))
	return hex.EncodeToString(h.Sum(nil))
}

// RunID derives the deterministic run identity for one (manifest, model,
// scenario) combination. Replanning never mints a second id for the same
// combination.
func RunID(manifestID, modelID, scenarioID string) string {
	h := sha256.New()
	h.Write([]byte(manifestID))
	h.Write([]byte("|"))
	h.Write([]byte(modelID))
	h.Write([]byte("|"))
	h.Write([]byte(scenarioID))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// BuildManifest freezes a validated config into the manifest for week.
func BuildManifest(cfg *Config, canonicalConfig []byte, week string, now time.Time) *Manifest {
	th := cfg.Parameters.Thresholds()
	return &Manifest{
		ManifestID:          ManifestID(canonicalConfig, week),
		Week:                week,
		Models:              append([]ModelSpec(nil), cfg.Models...),
		Scenarios:           append([]string(nil), cfg.Scenarios...),
		MaxTurns:            cfg.Parameters.MaxTurns,
		JudgeModel:          cfg.Parameters.JudgeModel,
		ComplianceThreshold: th.Compliance,
		DisciplineThreshold: th.Discipline,
		CreatedAt:           now.UTC(),
	}
}

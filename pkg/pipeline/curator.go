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
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/bench"
	"github.com/socratic-labs/socbench/pkg/bus"
	"github.com/socratic-labs/socbench/pkg/observability"
	"github.com/socratic-labs/socbench/pkg/store"
)

// Curator consumes run-judged events: it derives the per-run summary (first
// writer wins, so replays keep the original bytes) and folds it into the
// weekly rollup with a versioned read-merge-write. The rollup's run-id set
// makes the fold idempotent under duplicate events.
type Curator struct {
	deps Deps
}

// NewCurator creates a curator.
func NewCurator(deps Deps) *Curator {
	deps.defaults()
	return &Curator{deps: deps}
}

// HandleRunJudged processes one run-judged event. A returned error releases
// the message for redelivery.
func (c *Curator) HandleRunJudged(ctx context.Context, msg *bus.Message) error {
	var event RunJudgedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return fmt.Errorf("failed to decode run-judged event: %w", err)
	}

	var span *observability.Span
	if c.deps.Tracer != nil {
		ctx, span = c.deps.Tracer.StartSpan(ctx, observability.SpanCuratorRun)
		defer c.deps.Tracer.EndSpan(span)
		span.SetAttribute("run_id", event.RunID)
	}

	item, err := c.deps.KV.Get(ctx, bench.RunPartition(event.RunID), bench.SortMeta)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", event.RunID, err)
	}
	run, err := loadRun(item)
	if err != nil {
		return err
	}
	if !run.CompletionCommitted {
		// The event outran the commit it announces; let redelivery find
		// the committed state.
		return fmt.Errorf("run %s not yet committed", run.RunID)
	}

	manifest, err := c.loadManifest(ctx, run.ManifestID)
	if err != nil {
		return err
	}

	summary, err := c.summarize(ctx, run, manifest)
	if err != nil {
		return err
	}

	rollup, err := c.mergeRollup(ctx, summary)
	if err != nil {
		return err
	}

	c.deps.Logger.Info("run curated",
		zap.String("run_id", run.RunID),
		zap.String("week", run.Week),
		zap.String("model_id", run.ModelID),
		zap.Float64("mean_overall", summary.MeanOverall),
		zap.Int("rollup_runs", rollup.RunCount))
	return nil
}

func (c *Curator) loadManifest(ctx context.Context, manifestID string) (*bench.Manifest, error) {
	item, err := c.deps.KV.Get(ctx, bench.ManifestPartition(manifestID), bench.SortMeta)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest %s: %w", manifestID, err)
	}
	var manifest bench.Manifest
	if err := json.Unmarshal(item.Body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", manifestID, err)
	}
	return &manifest, nil
}

// summarize derives the run summary, writing it with a conditional put so
// the first derivation is the durable one.
func (c *Curator) summarize(ctx context.Context, run *bench.Run, manifest *bench.Manifest) (*bench.RunSummary, error) {
	judges, err := c.loadJudgeRecords(ctx, run)
	if err != nil {
		return nil, err
	}

	summary := bench.Summarize(run, judges, manifest.Thresholds(), c.deps.Now())
	body, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	item := store.Item{
		Partition:  bench.RunPartition(run.RunID),
		Sort:       bench.SortSummary,
		Body:       body,
		ModelID:    run.ModelID,
		ManifestID: run.ManifestID,
		Week:       run.Week,
	}
	err = c.deps.KV.PutIfAbsent(ctx, item)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrConditionFailed):
		existing, err := c.deps.KV.Get(ctx, item.Partition, item.Sort)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing summary: %w", err)
		}
		body = existing.Body
		var stored bench.RunSummary
		if err := json.Unmarshal(body, &stored); err != nil {
			return nil, fmt.Errorf("failed to decode existing summary: %w", err)
		}
		summary = &stored
	default:
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}

	if err := c.deps.Objects.Put(ctx, bench.RunSummaryKey(run.RunID), body); err != nil {
		return nil, err
	}
	return summary, nil
}

// loadJudgeRecords returns the scored judge records of the run. Pending
// records (possible only under a racing redelivery) are skipped; the run's
// judged set already guaranteed a scored record per counted turn.
func (c *Curator) loadJudgeRecords(ctx context.Context, run *bench.Run) ([]bench.JudgeRecord, error) {
	items, err := c.deps.KV.QueryPrefix(ctx, bench.RunPartition(run.RunID), "JUDGE#")
	if err != nil {
		return nil, fmt.Errorf("failed to query judge records: %w", err)
	}

	records := make([]bench.JudgeRecord, 0, len(items))
	for _, item := range items {
		var rec bench.JudgeRecord
		if err := json.Unmarshal(item.Body, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode judge record: %w", err)
		}
		if rec.State != bench.JudgeScored {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// mergeRollup folds the summary into its (week, model) rollup under
// optimistic concurrency, then mirrors the result to the object store.
func (c *Curator) mergeRollup(ctx context.Context, summary *bench.RunSummary) (*bench.WeeklyRollup, error) {
	partition := bench.RollupPartition(summary.Week, summary.ModelID)

	for attempt := 0; attempt < occRetries; attempt++ {
		item, err := c.deps.KV.Get(ctx, partition, bench.SortSummary)

		var rollup *bench.WeeklyRollup
		var version int64
		switch {
		case err == nil:
			rollup = &bench.WeeklyRollup{}
			if err := json.Unmarshal(item.Body, rollup); err != nil {
				return nil, fmt.Errorf("failed to decode rollup: %w", err)
			}
			version = item.Version
		case errors.Is(err, store.ErrNotFound):
			rollup = bench.NewWeeklyRollup(summary.Week, summary.ModelID)
		default:
			return nil, fmt.Errorf("failed to load rollup: %w", err)
		}

		merged := rollup.Merge(summary, c.deps.Now())

		body, err := json.Marshal(rollup)
		if err != nil {
			return nil, fmt.Errorf("failed to encode rollup: %w", err)
		}
		next := store.Item{
			Partition: partition,
			Sort:      bench.SortSummary,
			Body:      body,
			ModelID:   summary.ModelID,
			Week:      summary.Week,
		}

		if version == 0 {
			err = c.deps.KV.PutIfAbsent(ctx, next)
		} else if merged {
			err = c.deps.KV.UpdateIfVersion(ctx, next, version)
		} else {
			// Duplicate event: the rollup already contains this run.
			return rollup, nil
		}

		if errors.Is(err, store.ErrConditionFailed) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to write rollup: %w", err)
		}

		if err := c.deps.Objects.Put(ctx, bench.WeeklyRollupKey(summary.Week, summary.ModelID), body); err != nil {
			return nil, err
		}
		return rollup, nil
	}
	return nil, fmt.Errorf("rollup %s: gave up after %d contended updates", partition, occRetries)
}

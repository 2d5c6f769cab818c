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

// Package bus provides the pipeline's durable queues on SQLite. Delivery is
// at-least-once with a visibility timeout: a received message reappears
// unless deleted before the timeout lapses, and repeated redeliveries move
// it to the dead-letter state. Publishing is deduplicated by message id, so
// idempotent producers can re-publish after a crash without fanning out
// duplicates.
package bus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	_ "github.com/socratic-labs/socbench/internal/sqlitedriver"
	"github.com/socratic-labs/socbench/pkg/observability"
)

// Queue names used by the pipeline.
const (
	QueueDialogueJobs = "dialogue-jobs"
	QueueJudgeJobs    = "judge-jobs"
	QueueRunJudged    = "run-judged"
)

// DefaultMaxDeliveries is how many times a message is delivered before it
// is parked in the dead-letter state.
const DefaultMaxDeliveries = 3

// Message is one received queue message. ReceiveCount includes the current
// delivery.
type Message struct {
	ID           string
	Queue        string
	Body         []byte
	ReceiveCount int
	EnqueuedAt   time.Time
	VisibleAt    time.Time
}

// Config configures a Bus.
type Config struct {
	// Path is the queue database file, or ":memory:" for tests.
	Path string
	// MaxDeliveries overrides DefaultMaxDeliveries when positive.
	MaxDeliveries int

	Tracer observability.Tracer
	Logger *zap.Logger
}

// Bus is a set of named durable queues sharing one SQLite database.
// All operations are safe for concurrent use.
type Bus struct {
	db            *sql.DB
	maxDeliveries int

	mu     sync.Mutex
	notify map[string]chan struct{}

	tracer observability.Tracer
	logger *zap.Logger

	totalEnqueued atomic.Int64
	totalReceived atomic.Int64
	totalDeleted  atomic.Int64
	totalDead     atomic.Int64

	closed atomic.Bool
}

// New opens (creating if needed) the queue database at cfg.Path.
func New(cfg Config) (*Bus, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue database path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}

	dsn := cfg.Path
	if cfg.Path == ":memory:" {
		// Shared cache lets every pooled connection see the same
		// in-memory database.
		dsn = "file::memory:?mode=memory&cache=shared&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer connection; claim transactions stay race-free.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		cfg.Logger.Warn("failed to set pragmas", zap.Error(err))
	}

	schema := `
	CREATE TABLE IF NOT EXISTS queue_messages (
		queue TEXT NOT NULL,
		id TEXT NOT NULL,
		body BLOB NOT NULL,
		receive_count INTEGER NOT NULL DEFAULT 0,
		visible_at INTEGER NOT NULL,
		dead INTEGER NOT NULL DEFAULT 0,
		enqueued_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (queue, id)
	);
	CREATE INDEX IF NOT EXISTS idx_queue_visible ON queue_messages(queue, dead, visible_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Bus{
		db:            db,
		maxDeliveries: cfg.MaxDeliveries,
		notify:        make(map[string]chan struct{}),
		tracer:        cfg.Tracer,
		logger:        cfg.Logger,
	}, nil
}

// Enqueue publishes a message. The id deduplicates: re-publishing an id that
// is still queued (or dead-lettered) is a no-op, which keeps idempotent
// producers from fanning out duplicates on replay.
func (b *Bus) Enqueue(ctx context.Context, queue, id string, body []byte) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}
	if queue == "" || id == "" {
		return fmt.Errorf("queue and message id are required")
	}

	var span *observability.Span
	if b.tracer != nil {
		ctx, span = b.tracer.StartSpan(ctx, observability.SpanQueueEnqueue)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("queue", queue)
		span.SetAttribute("message_id", id)
	}

	now := time.Now().UnixMilli()
	res, err := b.db.ExecContext(ctx, `
		INSERT INTO queue_messages (queue, id, body, visible_at, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue, id) DO NOTHING`,
		queue, id, body, now, now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		b.logger.Debug("duplicate publish suppressed",
			zap.String("queue", queue),
			zap.String("message_id", id))
		return nil
	}

	b.totalEnqueued.Add(1)
	b.wake(queue)

	b.logger.Debug("message enqueued",
		zap.String("queue", queue),
		zap.String("message_id", id))
	return nil
}

// Receive claims the oldest visible message and hides it for the visibility
// window. Returns (nil, nil) when the queue has nothing deliverable. A
// message already delivered maxDeliveries times is parked dead instead of
// delivered again.
func (b *Bus) Receive(ctx context.Context, queue string, visibility time.Duration) (*Message, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("bus is closed")
	}

	var span *observability.Span
	if b.tracer != nil {
		ctx, span = b.tracer.StartSpan(ctx, observability.SpanQueueReceive)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("queue", queue)
	}

	for {
		msg, dead, err := b.claimOne(ctx, queue, visibility)
		if err != nil {
			return nil, err
		}
		if dead {
			// A message exceeded its delivery budget; keep looking.
			continue
		}
		if msg == nil {
			return nil, nil
		}

		b.totalReceived.Add(1)
		if span != nil {
			span.SetAttribute("message_id", msg.ID)
			span.SetAttribute("receive_count", msg.ReceiveCount)
		}
		b.logger.Debug("message received",
			zap.String("queue", queue),
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount))
		return msg, nil
	}
}

// claimOne claims the next visible message in one transaction. The dead
// return is true when a message was dead-lettered instead of claimed.
func (b *Bus) claimOne(ctx context.Context, queue string, visibility time.Duration) (*Message, bool, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin claim: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var (
		msg        Message
		enqueuedAt int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, body, receive_count, enqueued_at
		FROM queue_messages
		WHERE queue = ? AND dead = 0 AND visible_at <= ?
		ORDER BY enqueued_at, id
		LIMIT 1`, queue, now.UnixMilli()).
		Scan(&msg.ID, &msg.Body, &msg.ReceiveCount, &enqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query message: %w", err)
	}

	if msg.ReceiveCount >= b.maxDeliveries {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_messages SET dead = 1, updated_at = ?
			WHERE queue = ? AND id = ?`,
			now.UnixMilli(), queue, msg.ID); err != nil {
			return nil, false, fmt.Errorf("failed to dead-letter message: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit dead-letter: %w", err)
		}
		b.totalDead.Add(1)
		b.logger.Warn("message dead-lettered",
			zap.String("queue", queue),
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount))
		return nil, true, nil
	}

	msg.ReceiveCount++
	msg.Queue = queue
	msg.EnqueuedAt = time.UnixMilli(enqueuedAt)
	msg.VisibleAt = now.Add(visibility)

	if _, err := tx.ExecContext(ctx, `
		UPDATE queue_messages
		SET receive_count = ?, visible_at = ?, updated_at = ?
		WHERE queue = ? AND id = ?`,
		msg.ReceiveCount, msg.VisibleAt.UnixMilli(), now.UnixMilli(), queue, msg.ID); err != nil {
		return nil, false, fmt.Errorf("failed to claim message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &msg, false, nil
}

// Delete acknowledges a message, removing it permanently. Deleting an
// already-deleted message is a no-op.
func (b *Bus) Delete(ctx context.Context, queue, id string) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	var span *observability.Span
	if b.tracer != nil {
		ctx, span = b.tracer.StartSpan(ctx, observability.SpanQueueDelete)
		defer b.tracer.EndSpan(span)
		span.SetAttribute("queue", queue)
		span.SetAttribute("message_id", id)
	}

	res, err := b.db.ExecContext(ctx, `
		DELETE FROM queue_messages WHERE queue = ? AND id = ? AND dead = 0`,
		queue, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		b.totalDeleted.Add(1)
	}
	return nil
}

// Release makes an in-flight message immediately visible again. Handlers
// call it on transient failures instead of waiting out the visibility
// window.
func (b *Bus) Release(ctx context.Context, queue, id string) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}
	_, err := b.db.ExecContext(ctx, `
		UPDATE queue_messages SET visible_at = ?, updated_at = ?
		WHERE queue = ? AND id = ? AND dead = 0`,
		time.Now().UnixMilli(), time.Now().UnixMilli(), queue, id)
	if err != nil {
		return fmt.Errorf("failed to release message: %w", err)
	}
	b.wake(queue)
	return nil
}

// Depth returns the number of live (not dead) messages in queue, in-flight
// included.
func (b *Bus) Depth(ctx context.Context, queue string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_messages WHERE queue = ? AND dead = 0`, queue).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// DeadLetters returns the dead-lettered messages in queue, oldest first.
func (b *Bus) DeadLetters(ctx context.Context, queue string) ([]Message, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, body, receive_count, enqueued_at
		FROM queue_messages WHERE queue = ? AND dead = 1
		ORDER BY enqueued_at, id`, queue)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var enqueuedAt int64
		if err := rows.Scan(&m.ID, &m.Body, &m.ReceiveCount, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		m.Queue = queue
		m.EnqueuedAt = time.UnixMilli(enqueuedAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Stats holds cumulative bus counters.
type Stats struct {
	Enqueued int64
	Received int64
	Deleted  int64
	Dead     int64
}

// Stats returns cumulative counters since the bus was opened.
func (b *Bus) Stats() Stats {
	return Stats{
		Enqueued: b.totalEnqueued.Load(),
		Received: b.totalReceived.Load(),
		Deleted:  b.totalDeleted.Load(),
		Dead:     b.totalDead.Load(),
	}
}

// Notify returns a channel that receives a signal when a message lands in
// queue. The channel has a one-slot buffer; consumers should also poll so
// redeliveries after visibility timeouts are picked up.
func (b *Bus) Notify(queue string) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.notify[queue]
	if !ok {
		ch = make(chan struct{}, 1)
		b.notify[queue] = ch
	}
	return ch
}

func (b *Bus) wake(queue string) {
	b.mu.Lock()
	ch, ok := b.notify[queue]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Close closes the bus and its database.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.logger.Info("bus closing",
		zap.Int64("total_enqueued", b.totalEnqueued.Load()),
		zap.Int64("total_received", b.totalReceived.Load()),
		zap.Int64("total_deleted", b.totalDeleted.Load()),
		zap.Int64("total_dead", b.totalDead.Load()))

	return b.db.Close()
}

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
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/socratic-labs/socbench/pkg/bus"
)

// Handler processes one message. Returning nil acknowledges (deletes) the
// message; returning an error releases it for redelivery.
type Handler func(ctx context.Context, msg *bus.Message) error

// handlerMargin is how much sooner than the visibility timeout a handler's
// context expires, so a slow handler gives up before its message reappears
// and a second worker starts the same work.
const handlerMargin = 30 * time.Second

// WorkerPool drains one queue with a fixed number of workers.
type WorkerPool struct {
	queue      string
	workers    int
	visibility time.Duration
	handler    Handler

	bus    *bus.Bus
	logger *zap.Logger

	wg      sync.WaitGroup
	stopCh  chan struct{}
	started atomic.Bool
}

// NewWorkerPool creates a pool; call Start to begin consuming.
func NewWorkerPool(b *bus.Bus, queue string, workers int, visibility time.Duration, handler Handler, logger *zap.Logger) *WorkerPool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkerPool{
		queue:      queue,
		workers:    workers,
		visibility: visibility,
		handler:    handler,
		bus:        b,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the workers. Safe to call once.
func (p *WorkerPool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Info("worker pool started",
		zap.String("queue", p.queue),
		zap.Int("workers", p.workers))
}

// Stop signals the workers and waits for in-flight handlers to finish.
func (p *WorkerPool) Stop() {
	if !p.started.Load() {
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped", zap.String("queue", p.queue))
}

func (p *WorkerPool) run() {
	defer p.wg.Done()

	notify := p.bus.Notify(p.queue)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		msg, err := p.bus.Receive(context.Background(), p.queue, p.visibility)
		if err != nil {
			p.logger.Warn("receive failed",
				zap.String("queue", p.queue),
				zap.Error(err))
		}
		if msg == nil {
			select {
			case <-p.stopCh:
				return
			case <-notify:
			case <-ticker.C:
			}
			continue
		}

		p.handle(msg)
	}
}

func (p *WorkerPool) handle(msg *bus.Message) {
	deadline := p.visibility - handlerMargin
	if deadline < 5*time.Second {
		deadline = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	if err := p.handler(ctx, msg); err != nil {
		p.logger.Warn("handler failed, releasing message",
			zap.String("queue", p.queue),
			zap.String("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(err))
		if rerr := p.bus.Release(context.Background(), p.queue, msg.ID); rerr != nil {
			p.logger.Error("release failed",
				zap.String("message_id", msg.ID),
				zap.Error(rerr))
		}
		return
	}

	if err := p.bus.Delete(context.Background(), p.queue, msg.ID); err != nil {
		p.logger.Error("ack failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// Workers bundles the three consumer pools of the pipeline.
type Workers struct {
	Dialogue *WorkerPool
	Judge    *WorkerPool
	Curator  *WorkerPool
}

// NewWorkers wires the runner, judge, and curator pools at their capacity
// budgets.
func NewWorkers(deps Deps) *Workers {
	deps.defaults()
	runner := NewRunner(deps)
	judge := NewJudge(deps)
	curator := NewCurator(deps)
	return &Workers{
		Dialogue: NewWorkerPool(deps.Bus, bus.QueueDialogueJobs, DialogueWorkers,
			DialogueVisibility, runner.HandleDialogue, deps.Logger),
		Judge: NewWorkerPool(deps.Bus, bus.QueueJudgeJobs, JudgeWorkers,
			JudgeVisibility, judge.HandleJudge, deps.Logger),
		Curator: NewWorkerPool(deps.Bus, bus.QueueRunJudged, CuratorWorkers,
			CuratorVisibility, curator.HandleRunJudged, deps.Logger),
	}
}

// Start starts all pools.
func (w *Workers) Start() {
	w.Dialogue.Start()
	w.Judge.Start()
	w.Curator.Start()
}

// Stop stops all pools, draining in pipeline order.
func (w *Workers) Stop() {
	w.Dialogue.Stop()
	w.Judge.Stop()
	w.Curator.Stop()
}

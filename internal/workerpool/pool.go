// Package workerpool provides the bounded goroutine pool used for
// notification delivery fan-out. Tasks carry a name for rejection logging and
// receive the pool's base context so in-flight deliveries observe shutdown.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/driftd/internal/logging"
)

var log = logging.L("workerpool")

// Task is one unit of delivery work. The context is the pool's base context;
// it is cancelled when the pool drains past its deadline.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of goroutines behind a bounded queue. A full
// queue rejects rather than blocks: the notify worker re-reads queued rows on
// its next tick, so a rejected delivery is retried, not lost.
type Pool struct {
	queue     chan namedTask
	baseCtx   context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	accepting atomic.Bool
	closeOnce sync.Once
}

type namedTask struct {
	name string
	run  Task
}

// New starts a pool with workers goroutines and a queue of queueSize.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:   make(chan namedTask, queueSize),
		baseCtx: ctx,
		cancel:  cancel,
	}
	p.accepting.Store(true)

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task. Returns false when the pool has stopped accepting
// or the queue is full. The wg.Add happens before the enqueue attempt so
// Drain cannot race past a task that is about to land in the queue.
func (p *Pool) Submit(name string, task Task) bool {
	if !p.accepting.Load() {
		return false
	}

	p.wg.Add(1)
	select {
	case p.queue <- namedTask{name: name, run: task}:
		return true
	default:
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected", "task", name)
		return false
	}
}

// Drain stops accepting new tasks and waits for queued and in-flight work,
// bounded by ctx. On timeout the base context is cancelled so running tasks
// can bail out.
func (p *Pool) Drain(ctx context.Context) {
	p.accepting.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out, cancelling in-flight tasks")
		p.cancel()
		<-done
	}

	p.cancel()
	p.closeOnce.Do(func() { close(p.queue) })
}

func (p *Pool) worker() {
	for task := range p.queue {
		p.runTask(task)
	}
}

func (p *Pool) runTask(task namedTask) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "task", task.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task.run(p.baseCtx)
}

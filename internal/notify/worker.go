package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/model"
	"github.com/breeze-rmm/driftd/internal/store"
	"github.com/breeze-rmm/driftd/internal/workerpool"
)

var log = logging.L("notify")

// batchLimit caps how many queued rows one tick picks up. Rejected pool
// submissions stay queued and are retried next tick.
const batchLimit = 100

// Worker drains queued notifications on an interval, fanning deliveries out
// over the bounded pool and marking rows sent or failed. Rows still in flight
// when the next tick fires are skipped, so a slow delivery is never sent
// twice.
type Worker struct {
	store    *store.Store
	sender   Sender
	pool     *workerpool.Pool
	interval time.Duration

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewWorker(st *store.Store, sender Sender, pool *workerpool.Pool, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		store:    st,
		sender:   sender,
		pool:     pool,
		interval: interval,
		inflight: make(map[int64]struct{}),
	}
}

// Run loops until ctx is cancelled. One drain pass runs immediately so
// restarts do not sit on a backlog for a full interval.
func (w *Worker) Run(ctx context.Context) {
	log.Info("notify worker started", "interval", w.interval.String())
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("notify worker stopped")
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	queued, err := w.store.QueuedNotifications(ctx, batchLimit)
	if err != nil {
		log.Error("drain queued notifications", logging.KeyError, err)
		return
	}
	if len(queued) == 0 {
		return
	}

	log.Debug("draining notifications", "count", len(queued))
	for _, n := range queued {
		w.dispatch(n)
	}
}

// dispatch hands one notification to the pool. The row is marked failed or
// sent from inside the task; a rejected submission leaves it queued.
func (w *Worker) dispatch(n model.Notification) {
	w.mu.Lock()
	if _, busy := w.inflight[n.ID]; busy {
		w.mu.Unlock()
		return
	}
	w.inflight[n.ID] = struct{}{}
	w.mu.Unlock()

	submitted := w.pool.Submit(fmt.Sprintf("notification-%d", n.ID), func(ctx context.Context) {
		defer w.release(n.ID)
		if err := w.sender.Send(ctx, n); err != nil {
			log.Warn("notification delivery failed",
				"notificationId", n.ID,
				"recipient", n.Recipient,
				logging.KeyError, err,
			)
			if markErr := w.store.MarkNotificationFailed(ctx, n.ID, err); markErr != nil {
				log.Error("mark notification failed", "notificationId", n.ID, logging.KeyError, markErr)
			}
			return
		}
		if err := w.store.MarkNotificationSent(ctx, n.ID, time.Now().UTC()); err != nil {
			log.Error("mark notification sent", "notificationId", n.ID, logging.KeyError, err)
		}
	})
	if !submitted {
		w.release(n.ID)
	}
}

func (w *Worker) release(id int64) {
	w.mu.Lock()
	delete(w.inflight, id)
	w.mu.Unlock()
}

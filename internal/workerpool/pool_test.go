package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	p := New(2, 8)
	defer p.Drain(context.Background())

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := p.Submit("count", func(ctx context.Context) {
			defer wg.Done()
			ran.Add(1)
		})
		if !ok {
			t.Fatalf("submit %d rejected", i)
		}
	}
	wg.Wait()

	if got := ran.Load(); got != 5 {
		t.Fatalf("ran %d tasks, want 5", got)
	}
}

func TestPoolRejectsWhenQueueFull(t *testing.T) {
	p := New(1, 1)
	defer p.Drain(context.Background())

	block := make(chan struct{})
	p.Submit("blocker", func(ctx context.Context) { <-block })

	// Fill the queue, then one more must be rejected.
	deadline := time.After(2 * time.Second)
	for p.Submit("filler", func(ctx context.Context) {}) {
		select {
		case <-deadline:
			close(block)
			t.Fatal("queue never filled")
		default:
		}
	}
	close(block)
}

func TestDrainWaitsForInFlight(t *testing.T) {
	p := New(2, 4)

	var done atomic.Bool
	p.Submit("slow", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	})

	p.Drain(context.Background())
	if !done.Load() {
		t.Fatal("drain returned before in-flight task finished")
	}

	if p.Submit("late", func(ctx context.Context) {}) {
		t.Fatal("submit accepted after drain")
	}
}

func TestDrainTimeoutCancelsTasks(t *testing.T) {
	p := New(1, 1)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	p.Submit("stuck", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.Drain(ctx)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task never observed cancellation")
	}
}

func TestPanickedTaskDoesNotKillWorker(t *testing.T) {
	p := New(1, 4)
	defer p.Drain(context.Background())

	p.Submit("boom", func(ctx context.Context) { panic("boom") })

	ran := make(chan struct{})
	p.Submit("after", func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

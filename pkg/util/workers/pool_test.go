package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestPoolRunsAllTasks(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 3})
	var ran int32
	for i := 0; i < 10; i++ {
		pool.Submit(i, func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		})
	}
	results := pool.Wait()
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Errorf("got %d tasks run, want 10", got)
	}
	seen := make(map[int]bool)
	for _, r := range results {
		if r.Error != nil {
			t.Errorf("task %d: unexpected error %v", r.Index, r.Error)
		}
		seen[r.Index] = true
	}
	if len(seen) != 10 {
		t.Errorf("got %d distinct indexes, want 10", len(seen))
	}
}

func TestPoolReportsTaskErrors(t *testing.T) {
	boom := errors.New("boom")
	pool := NewPool(context.Background(), Config{Workers: 2})
	for i := 0; i < 4; i++ {
		i := i
		pool.Submit(i, func(ctx context.Context) error {
			if i == 2 {
				return boom
			}
			return nil
		})
	}
	var failed int
	for _, r := range pool.Wait() {
		if r.Error != nil {
			if r.Index != 2 || !errors.Is(r.Error, boom) {
				t.Errorf("unexpected failure: index %d err %v", r.Index, r.Error)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("got %d failures, want 1", failed)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const limit = 2
	pool := NewPool(context.Background(), Config{Workers: limit})
	var active, peak int32
	for i := 0; i < 8; i++ {
		pool.Submit(i, func(ctx context.Context) error {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			atomic.AddInt32(&active, -1)
			return nil
		})
	}
	pool.Wait()
	if got := atomic.LoadInt32(&peak); got > limit {
		t.Errorf("observed %d concurrent tasks, limit is %d", got, limit)
	}
}

func TestWaitReleasesPoolContext(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 2})
	var taskCtx context.Context
	pool.Submit(0, func(ctx context.Context) error {
		taskCtx = ctx
		return nil
	})
	pool.Wait()
	select {
	case <-taskCtx.Done():
	default:
		t.Error("pool context still live after Wait")
	}
}

func TestPoolStopCancelsTaskContext(t *testing.T) {
	pool := NewPool(context.Background(), Config{Workers: 1})
	started := make(chan struct{})
	pool.Submit(0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	pool.Stop()
	results := pool.Wait()
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !errors.Is(results[0].Error, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", results[0].Error)
	}
}

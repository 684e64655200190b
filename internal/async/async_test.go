package async

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

func TestPoolBound(t *testing.T) {
	p := NewPool("workers", 3)
	defer p.Close()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		if err := p.Submit(func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	if got := peak.Load(); got > 3 {
		t.Errorf("peak concurrency %d exceeds pool size 3", got)
	}
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	p := NewPool("single", 1)
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Close()
	}()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := p.Submit(func() { <-release }); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Submit blocked for %v on a saturated pool", elapsed)
	}
}

func TestPoolClose(t *testing.T) {
	p := NewPool("closing", 2)
	var ran atomic.Bool
	if err := p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	}); err != nil {
		t.Fatal(err)
	}
	p.Close()

	if !ran.Load() {
		t.Error("Close returned before queued work finished")
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Future
// ---------------------------------------------------------------------------

func TestGoAwait(t *testing.T) {
	p := NewPool("workers", 2)
	defer p.Close()

	f := Go(context.Background(), p, func(context.Context) (int, error) { return 42, nil })
	v, err := f.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await = %d, %v", v, err)
	}

	select {
	case <-f.Done():
	default:
		t.Error("Done not closed after completion")
	}
	if v, err := f.Result(); err != nil || v != 42 {
		t.Errorf("Result = %d, %v", v, err)
	}
}

func TestGoError(t *testing.T) {
	p := NewPool("workers", 1)
	defer p.Close()

	boom := errors.New("boom")
	_, err := Go(context.Background(), p, func(context.Context) (string, error) { return "", boom }).Await(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestGoPanic(t *testing.T) {
	p := NewPool("workers", 1)
	defer p.Close()

	_, err := Go(context.Background(), p, func(context.Context) (int, error) { panic("kaboom") }).Await(context.Background())
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("expected panic to fail the future, got %v", err)
	}
}

func TestGoCanceledBeforeStart(t *testing.T) {
	p := NewPool("workers", 1)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	_, err := Go(ctx, p, func(context.Context) (int, error) {
		called.Store(true)
		return 1, nil
	}).Await(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called.Load() {
		t.Error("task ran after its context was canceled")
	}
}

func TestGoClosedPool(t *testing.T) {
	p := NewPool("workers", 1)
	p.Close()

	_, err := Go(context.Background(), p, func(context.Context) (int, error) { return 1, nil }).Result()
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestGoNilPool(t *testing.T) {
	var called bool
	f := Go(context.Background(), nil, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	select {
	case <-f.Done():
	default:
		t.Fatal("future on a nil pool should fail immediately")
	}
	if _, err := f.Result(); !errors.Is(err, ErrNoPool) {
		t.Errorf("expected ErrNoPool, got %v", err)
	}
	if called {
		t.Error("task ran without a pool")
	}
}

func TestAwaitContext(t *testing.T) {
	p := NewPool("workers", 1)
	release := make(chan struct{})
	defer func() {
		close(release)
		p.Close()
	}()

	f := Go(context.Background(), p, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if _, err := f.Result(); !errors.Is(err, ErrPending) {
		t.Errorf("expected ErrPending, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOnCompleteRunsOnPool(t *testing.T) {
	workers := NewPool("workers", 1)
	completion := NewPool("completion", 1)
	defer workers.Close()
	defer completion.Close()

	gate := make(chan struct{})
	f := Go(context.Background(), workers, func(context.Context) (int, error) {
		<-gate
		return 7, nil
	})

	got := make(chan int, 2)
	f.OnComplete(completion, func(v int, err error) { got <- v })
	close(gate)

	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("callback got %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}

	// Registered after completion: still delivered.
	f.OnComplete(nil, func(v int, err error) { got <- v })
	if v := <-got; v != 7 {
		t.Errorf("late callback got %d", v)
	}
}

func TestThen(t *testing.T) {
	p := NewPool("workers", 2)
	defer p.Close()

	f := Then(Resolved(20), p, func(v int) (string, error) {
		if v != 20 {
			return "", errors.New("wrong input")
		}
		return "twenty", nil
	})
	if s, err := f.Await(context.Background()); err != nil || s != "twenty" {
		t.Errorf("Then = %q, %v", s, err)
	}

	boom := errors.New("boom")
	g := Then(Failed[int](boom), p, func(int) (string, error) { return "unreachable", nil })
	if _, err := g.Await(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Then should propagate failure, got %v", err)
	}
}

func TestAll(t *testing.T) {
	p := NewPool("completion", 2)
	defer p.Close()
	ctx := context.Background()

	slow := Go(ctx, p, func(context.Context) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	})
	vals, err := All(p, slow, Resolved(2), Resolved(3)).Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vals) != 3 || vals[0] != 1 || vals[1] != 2 || vals[2] != 3 {
		t.Errorf("All = %v, want [1 2 3]", vals)
	}

	boom := errors.New("boom")
	if _, err := All(p, Resolved(1), Failed[int](boom)).Await(ctx); !errors.Is(err, boom) {
		t.Errorf("All should fail with boom, got %v", err)
	}

	if vals, err := All[int](p).Await(ctx); err != nil || vals != nil {
		t.Errorf("empty All = %v, %v", vals, err)
	}
}

func TestDeliver(t *testing.T) {
	workers := NewPool("workers", 1)
	defer workers.Close()
	completion := NewPool("completion", 1)
	defer completion.Close()
	ctx := context.Background()

	f := Go(ctx, workers, func(context.Context) (string, error) { return "ok", nil })
	if got := Deliver(f, nil); got != f {
		t.Error("nil pool should return the future itself")
	}
	v, err := Deliver(f, completion).Await(ctx)
	if err != nil || v != "ok" {
		t.Errorf("Deliver = %q, %v", v, err)
	}
}

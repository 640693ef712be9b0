package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Tutortoise/deepfake-detector/classifier"
)

type fakeSession struct {
	score float32
	err   error

	mu        sync.Mutex
	calls     int
	last      []float32
	destroyed bool
}

func (f *fakeSession) Predict(input []float32) (float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = input
	return f.score, f.err
}

func (f *fakeSession) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeSession) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func staticFactory(sessions ...*fakeSession) SessionFactory {
	i := 0
	return func() (classifier.Session, error) {
		s := sessions[i%len(sessions)]
		i++
		return s, nil
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	a, b := &fakeSession{}, &fakeSession{}
	pool, err := NewModelSessionPool(staticFactory(a, b), 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	ctx := context.Background()
	s1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if s1 == s2 {
		t.Fatal("same session handed out twice")
	}

	m := pool.GetMetrics()
	if m.PoolSize != 2 || m.SessionsInUse != 2 || m.TotalAcquired != 2 {
		t.Errorf("metrics after acquire = %+v", m)
	}

	pool.Release(s1)
	pool.Release(s2)

	m = pool.GetMetrics()
	if m.SessionsInUse != 0 || m.TotalReleased != 2 {
		t.Errorf("metrics after release = %+v", m)
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool, err := NewModelSessionPool(staticFactory(&fakeSession{}), 1, 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(held)

	_, err = pool.Acquire(context.Background())
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if got := pool.GetMetrics().AcquireFailures; got != 1 {
		t.Errorf("acquire failures = %d, want 1", got)
	}
}

func TestPoolAcquireContextCancelled(t *testing.T) {
	pool, err := NewModelSessionPool(staticFactory(&fakeSession{}), 1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	held, _ := pool.Acquire(context.Background())
	defer pool.Release(held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPoolDestroy(t *testing.T) {
	idle, busy := &fakeSession{}, &fakeSession{}
	pool, err := NewModelSessionPool(staticFactory(busy, idle), 2, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	held, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	pool.Destroy()
	pool.Destroy()

	if !idle.destroyed {
		t.Error("idle session not destroyed")
	}
	if busy.destroyed {
		t.Error("checked-out session destroyed before release")
	}

	pool.Release(held)
	if !busy.destroyed {
		t.Error("released session not destroyed after pool close")
	}

	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolFactoryError(t *testing.T) {
	first := &fakeSession{}
	calls := 0
	factory := func() (classifier.Session, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("out of memory")
		}
		return first, nil
	}

	if _, err := NewModelSessionPool(factory, 3, time.Second); err == nil {
		t.Fatal("expected error from factory")
	}
	if !first.destroyed {
		t.Error("already created session not destroyed on failure")
	}
}

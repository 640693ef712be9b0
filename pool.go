package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/deepfake-detector/classifier"
)

const (
	DefaultPoolSize       = 1
	DefaultAcquireTimeout = 30 * time.Second
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// SessionFactory creates one inference session over the loaded model.
type SessionFactory func() (classifier.Session, error)

// ModelSessionPool hands out a fixed set of sessions created at startup.
// A session is used by at most one request at a time.
type ModelSessionPool struct {
	sessions       chan classifier.Session
	size           int
	acquireTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	metrics        *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolSnapshot is a point-in-time copy of the pool counters.
type PoolSnapshot struct {
	PoolSize        int   `json:"pool_size"`
	SessionsInUse   int   `json:"sessions_in_use"`
	TotalAcquired   int64 `json:"total_acquired"`
	TotalReleased   int64 `json:"total_released"`
	AcquireFailures int64 `json:"acquire_failures"`
	WaitTimeMs      int64 `json:"wait_time_ms"`
}

func NewModelSessionPool(factory SessionFactory, size int, acquireTimeout time.Duration) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}

	pool := &ModelSessionPool{
		sessions:       make(chan classifier.Session, size),
		size:           size,
		acquireTimeout: acquireTimeout,
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (classifier.Session, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session classifier.Session) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Destroy closes the pool and destroys idle sessions. Sessions still checked
// out are destroyed when released.
func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *ModelSessionPool) GetMetrics() PoolSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolSnapshot{
		PoolSize:        p.size,
		SessionsInUse:   p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTimeMs:      p.metrics.waitTime.Milliseconds(),
	}
}

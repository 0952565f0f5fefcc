// Copyright (c) the qldbdriver-go contributors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pool implements a fixed-capacity, fair session pool: a
// counting semaphore bounds concurrent holders, and a concurrent FIFO
// holds idle sessions for reuse. Fairness comes from
// golang.org/x/sync/semaphore.Weighted, whose Acquire queues waiters in
// arrival order.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errClosed{}

type errClosed struct{}

func (errClosed) Error() string { return "pool: closed" }

// Stats is a point-in-time snapshot, used only for diagnostics and
// metrics reporting. Acquire and Release never consult it.
type Stats struct {
	Idle     int
	InUse    int
	Capacity int
}

// Pool is a fixed-capacity, fair pool of reusable items of type T (a
// *Session in this driver). It is safe for concurrent use.
type Pool[T any] struct {
	sem      *semaphore.Weighted
	capacity int64

	mu     sync.Mutex
	idle   []T
	inUse  int
	closed bool
}

// New creates a Pool with the given fixed capacity.
func New[T any](capacity int) *Pool[T] {
	return &Pool[T]{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire waits (bounded by ctx) for a permit, fairly, in arrival
// order. On success, it pops an idle item if one is available;
// otherwise it calls create to make a new one. If create fails the
// permit is released before the error is returned, so no permit ever
// leaks (invariant P1).
func (p *Pool[T]) Acquire(ctx context.Context, create func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, ErrClosed
	}
	if len(p.idle) > 0 {
		item := p.idle[0]
		p.idle = p.idle[1:]
		p.inUse++
		p.mu.Unlock()
		return item, nil
	}
	p.inUse++
	p.mu.Unlock()

	item, err := create(ctx)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, err
	}
	return item, nil
}

// AcquireNewPermit consumes a fresh permit outside the idle FIFO (used
// by the execute-loop's "replace dead session" path, which must still
// count against max_concurrent_transactions but must not pull a
// possibly-stale idle session).
func (p *Pool[T]) AcquireNewPermit(ctx context.Context, create func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, ErrClosed
	}
	p.inUse++
	p.mu.Unlock()

	item, err := create(ctx)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		p.sem.Release(1)
		return zero, err
	}
	return item, nil
}

// Release returns a healthy item to the idle FIFO and releases its permit.
func (p *Pool[T]) Release(item T) {
	p.mu.Lock()
	p.inUse--
	if !p.closed {
		p.idle = append(p.idle, item)
	}
	p.mu.Unlock()
	p.sem.Release(1)
}

// Discard releases the permit without returning the item to the FIFO.
// Used when the item (session) is believed dead.
func (p *Pool[T]) Discard() {
	p.mu.Lock()
	p.inUse--
	p.mu.Unlock()
	p.sem.Release(1)
}

// Close marks the pool closed, drains all idle items through end, and
// causes further Acquire calls to fail with ErrClosed.
func (p *Pool[T]) Close(ctx context.Context, end func(ctx context.Context, item T) error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	drained := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, item := range drained {
		_ = end(ctx, item)
	}
}

// Stats returns a point-in-time snapshot.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: p.inUse, Capacity: int(p.capacity)}
}

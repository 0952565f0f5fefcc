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

package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(ctx context.Context) (int, error) { return 1, nil }

func TestPool_AcquireCreatesUpToCapacity(t *testing.T) {
	p := New[int](2)

	a, err := p.Acquire(context.Background(), newItem)
	require.NoError(t, err)
	b, err := p.Acquire(context.Background(), newItem)
	require.NoError(t, err)
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)

	stats := p.Stats()
	assert.Equal(t, 2, stats.InUse)
	assert.Equal(t, 0, stats.Idle)
}

func TestPool_AcquireBlocksPastCapacityUntilReleased(t *testing.T) {
	p := New[int](1)

	first, err := p.Acquire(context.Background(), newItem)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, newItem)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a second Acquire must block until a permit frees up")

	p.Release(first)

	_, err = p.Acquire(context.Background(), newItem)
	assert.NoError(t, err, "releasing the first item must free a permit for a subsequent Acquire")
}

func TestPool_ReleaseReusesIdleItemBeforeCreating(t *testing.T) {
	p := New[int](1)

	creates := 0
	create := func(ctx context.Context) (int, error) {
		creates++
		return creates, nil
	}

	first, err := p.Acquire(context.Background(), create)
	require.NoError(t, err)
	p.Release(first)

	second, err := p.Acquire(context.Background(), create)
	require.NoError(t, err)

	assert.Equal(t, 1, creates, "a released idle item must be reused instead of calling create again")
	assert.Equal(t, first, second)
}

func TestPool_DiscardDoesNotReturnItemToIdle(t *testing.T) {
	p := New[int](1)

	item, err := p.Acquire(context.Background(), newItem)
	require.NoError(t, err)
	p.Discard()

	assert.Equal(t, 0, p.Stats().Idle)

	creates := 0
	create := func(ctx context.Context) (int, error) {
		creates++
		return item + 1, nil
	}
	_, err = p.Acquire(context.Background(), create)
	require.NoError(t, err)
	assert.Equal(t, 1, creates, "a discarded item must never be handed out again")
}

func TestPool_CreateFailureReleasesThePermit(t *testing.T) {
	p := New[int](1)
	boom := errors.New("boom")
	failingCreate := func(ctx context.Context) (int, error) { return 0, boom }

	_, err := p.Acquire(context.Background(), failingCreate)
	assert.ErrorIs(t, err, boom)

	// The permit must have been released; a subsequent Acquire should
	// not block even though the first one "failed after acquiring".
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, newItem)
	assert.NoError(t, err)
}

func TestPool_AcquireNewPermitBypassesIdleFIFO(t *testing.T) {
	p := New[int](1)

	first, err := p.Acquire(context.Background(), func(ctx context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	p.Release(first)
	assert.Equal(t, 1, p.Stats().Idle)

	fresh, err := p.AcquireNewPermit(context.Background(), func(ctx context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, fresh, "AcquireNewPermit must always call create, never reuse an idle item")
}

func TestPool_CloseRejectsFurtherAcquires(t *testing.T) {
	p := New[int](2)
	p.Close(context.Background(), func(ctx context.Context, item int) error { return nil })

	_, err := p.Acquire(context.Background(), newItem)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = p.AcquireNewPermit(context.Background(), newItem)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_CloseDrainsIdleItemsThroughEnd(t *testing.T) {
	p := New[int](2)
	a, _ := p.Acquire(context.Background(), newItem)
	b, _ := p.Acquire(context.Background(), func(ctx context.Context) (int, error) { return 2, nil })
	p.Release(a)
	p.Release(b)

	var mu sync.Mutex
	var ended []int
	p.Close(context.Background(), func(ctx context.Context, item int) error {
		mu.Lock()
		defer mu.Unlock()
		ended = append(ended, item)
		return nil
	})

	assert.ElementsMatch(t, []int{a, b}, ended)
}

func TestPool_AcquireIsFairFIFOOrder(t *testing.T) {
	p := New[int](1)
	held, err := p.Acquire(context.Background(), newItem)
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			// Stagger start order slightly so arrival order is deterministic.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			item, err := p.Acquire(context.Background(), func(ctx context.Context) (int, error) { return i, nil })
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			p.Release(item)
		}()
	}

	time.Sleep(30 * time.Millisecond)
	p.Release(held)
	wg.Wait()

	assert.Equal(t, []int{1, 2, 3}, order, "waiters must acquire in arrival order")
}

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

package qldbdriver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/log"
)

// pollInterval bounds how long the prefetch worker can be stuck
// trying to enqueue before it re-checks whether the consumer closed
// the result.
const pollInterval = 50 * time.Millisecond

type pageOrErr struct {
	page  qldbapi.Page
	stats *qldbapi.Stats
	err   error
}

// prefetcher overlaps page fetches with consumer iteration: a
// dedicated goroutine fetches pages ahead of demand into a bounded
// channel, so Next rarely blocks on the network.
type prefetcher struct {
	queue  chan pageOrErr
	closed atomic.Bool
	logger log.Logger
}

func newPrefetcher(ctx context.Context, session *Session, transactionID, firstNextToken string, depth int, logger log.Logger, executor Executor) *prefetcher {
	p := &prefetcher{
		queue:  make(chan pageOrErr, depth),
		logger: logger,
	}
	executor(func() { p.run(ctx, session, transactionID, firstNextToken) })
	return p
}

// close flips the worker's cooperative-exit flag. It does not block;
// the worker notices within one pollInterval.
func (p *prefetcher) close() {
	p.closed.Store(true)
}

func (p *prefetcher) run(ctx context.Context, session *Session, transactionID, token string) {
	defer close(p.queue)

	for token != "" {
		if p.closed.Load() {
			return
		}
		page, stats, err := session.fetchPage(ctx, transactionID, token)
		if err != nil {
			p.reportError(err)
			return
		}
		if !p.enqueue(ctx, pageOrErr{page: page, stats: stats}) {
			return
		}
		token = page.NextPageToken
	}
}

// enqueue blocks until the item is accepted, the context is
// cancelled, or the result is closed. It polls the closed flag every
// pollInterval so a cancelled consumer frees the worker promptly.
func (p *prefetcher) enqueue(ctx context.Context, item pageOrErr) bool {
	for {
		select {
		case p.queue <- item:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
			if p.closed.Load() {
				return false
			}
		}
	}
}

// reportError clears any pages already queued so the consumer
// observes the error next, ahead of any page that would follow it.
func (p *prefetcher) reportError(err error) {
drain:
	for {
		select {
		case <-p.queue:
			continue
		default:
			break drain
		}
	}
	select {
	case p.queue <- pageOrErr{err: err}:
	default:
		p.logger.Errorf(log.Result, "", err, "prefetch worker dropped a fetch error: queue full")
	}
}

// fetchNext implements pageFetcher by dequeuing the worker's output.
func (p *prefetcher) fetchNext(ctx context.Context) (qldbapi.Page, *qldbapi.Stats, bool, error) {
	select {
	case item, open := <-p.queue:
		if !open {
			return qldbapi.Page{}, nil, false, nil
		}
		if item.err != nil {
			return qldbapi.Page{}, nil, false, item.err
		}
		return item.page, item.stats, true, nil
	case <-ctx.Done():
		return qldbapi.Page{}, nil, false, ctx.Err()
	}
}

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
	"sync"
	"sync/atomic"
	"time"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/internal/wire"
	"github.com/qldb-community/qldbdriver-go/log"
)

// IOUsage is a monotonic accumulator of server-reported IO counters
// across every page a Result has consumed so far: each page adds to
// the running total rather than replacing it.
type IOUsage struct {
	ReadIOs  int64
	WriteIOs int64
}

// TimingInformation is a monotonic accumulator of server-reported
// processing time across every page a Result has consumed so far.
type TimingInformation struct {
	ProcessingTime time.Duration
}

func (u *IOUsage) add(s *qldbapi.Stats) {
	if s == nil {
		return
	}
	u.ReadIOs += s.ReadIOs
	u.WriteIOs += s.WriteIOs
}

func (t *TimingInformation) add(s *qldbapi.Stats) {
	if s == nil {
		return
	}
	t.ProcessingTime += s.ProcessingTime
}

// Result is the value a txn.Execute call returns: a lazy, single-pass
// cursor over the statement's (possibly multi-page) output, in the
// style of database/sql's Rows. Call Next until it returns false, then
// check Err. Next takes ctx directly rather than a txn handle, since
// this Result already closes over its owning Transaction internally.
type Result interface {
	// Next advances the cursor, fetching another page from the server
	// if the current one is exhausted and a next-page token exists. It
	// returns false at the terminal page, or if the owning transaction
	// has left the open state (Err reports ResultParentInactive), or on
	// any fetch error (Err reports the cause).
	Next(ctx context.Context) bool

	// GetCurrentData returns the wire-encoded bytes of the value Next
	// last advanced to. Decode it with the same codec the driver was
	// configured with.
	GetCurrentData() []byte

	// Err returns the error, if any, that stopped iteration. A natural
	// end of data (terminal page exhausted) reports nil.
	Err() error

	// IsEmpty reports whether the first page held zero values and there
	// is no next-page token, meaning the statement produced no output.
	// On a streaming Result it reports false once Next has been called.
	IsEmpty() bool

	GetConsumedIOs() IOUsage
	GetTimingInformation() TimingInformation
}

// bufferer is implemented by Results that can be converted to a fully
// materialized, freely re-iterable snapshot. The execute-loop uses
// this to implicitly buffer a lambda's returned streaming Result
// before commit, since commit invalidates any stream still open
// against the transaction.
type bufferer interface {
	buffer(ctx context.Context) (Result, error)
}

// pageFetcher yields pages after the one a Result was constructed
// with. ok is false once the terminal page has already been returned.
type pageFetcher interface {
	fetchNext(ctx context.Context) (page qldbapi.Page, stats *qldbapi.Stats, ok bool, err error)
}

// syncFetcher calls FetchPage directly on the session, once per
// fetchNext call. It is the read_ahead=0 synchronous-on-demand path.
type syncFetcher struct {
	session       *Session
	transactionID string
	nextToken     string
	exhausted     bool
}

func newSyncFetcher(session *Session, transactionID, firstNextToken string) *syncFetcher {
	return &syncFetcher{session: session, transactionID: transactionID, nextToken: firstNextToken, exhausted: firstNextToken == ""}
}

func (f *syncFetcher) fetchNext(ctx context.Context) (qldbapi.Page, *qldbapi.Stats, bool, error) {
	if f.exhausted {
		return qldbapi.Page{}, nil, false, nil
	}
	page, stats, err := f.session.fetchPage(ctx, f.transactionID, f.nextToken)
	if err != nil {
		return qldbapi.Page{}, nil, false, err
	}
	if page.NextPageToken == "" {
		f.exhausted = true
	} else {
		f.nextToken = page.NextPageToken
	}
	return page, stats, true, nil
}

// streamingResult is the default Result: a single-pass cursor over
// the session's pages, invalidated the moment its owning transaction
// closes.
type streamingResult struct {
	txn    *Transaction
	codec  wire.Codec
	logger log.Logger

	mu       sync.Mutex
	values   [][]byte
	cursor   int
	current  []byte
	fetcher  pageFetcher
	started  bool
	buffered bool
	exhausted bool
	err      error

	parentInactive atomic.Bool

	ios     IOUsage
	timing  TimingInformation
}

func newStreamingResult(txn *Transaction, session *Session, page qldbapi.Page, stats *qldbapi.Stats) *streamingResult {
	r := &streamingResult{
		txn:     txn,
		codec:   txn.codec,
		logger:  txn.logger,
		values:  page.Values,
		fetcher: newSyncFetcher(session, txn.id, page.NextPageToken),
	}
	r.ios.add(stats)
	r.timing.add(stats)
	return r
}

// withPrefetch swaps the synchronous fetcher for a read-ahead one,
// seeded with the first page's already-known next-page token.
func (r *streamingResult) withPrefetch(ctx context.Context, depth int, firstNextToken string, session *Session, executor Executor) *streamingResult {
	if depth < 2 || firstNextToken == "" {
		return r
	}
	r.fetcher = newPrefetcher(ctx, session, r.txn.id, firstNextToken, depth, r.logger, executor)
	return r
}

func (r *streamingResult) invalidateParent() {
	r.parentInactive.Store(true)
	r.mu.Lock()
	fetcher := r.fetcher
	r.mu.Unlock()
	if pf, ok := fetcher.(*prefetcher); ok {
		pf.close()
	}
}

func (r *streamingResult) Next(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exhausted {
		r.err = iterationExhaustedErr()
		return false
	}
	if r.err != nil {
		return false
	}
	if r.parentInactive.Load() {
		r.err = resultParentInactiveErr(r.txn.id)
		r.exhausted = true
		return false
	}

	r.started = true

	for r.cursor >= len(r.values) {
		page, stats, ok, err := r.fetcher.fetchNext(ctx)
		if err != nil {
			r.err = err
			r.exhausted = true
			return false
		}
		if !ok {
			r.exhausted = true
			return false
		}
		r.ios.add(stats)
		r.timing.add(stats)
		r.values = page.Values
		r.cursor = 0
	}

	r.current = r.values[r.cursor]
	r.cursor++
	return true
}

func (r *streamingResult) GetCurrentData() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *streamingResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err == nil {
		return nil
	}
	return r.err
}

func (r *streamingResult) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || len(r.values) != 0 {
		return false
	}
	// Before the first Next, a syncFetcher is exhausted exactly when the
	// first page had no next-page token; a prefetcher is only installed
	// when there is one.
	sf, ok := r.fetcher.(*syncFetcher)
	return ok && sf.exhausted
}

func (r *streamingResult) GetConsumedIOs() IOUsage                   { r.mu.Lock(); defer r.mu.Unlock(); return r.ios }
func (r *streamingResult) GetTimingInformation() TimingInformation   { r.mu.Lock(); defer r.mu.Unlock(); return r.timing }

// buffer drains the remaining stream into a bufferedResult. A
// streaming result is iterated at most once: calling buffer after the
// caller has already manually iterated this same Result is rejected
// with AlreadyIterated.
func (r *streamingResult) buffer(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.started || r.buffered {
		r.mu.Unlock()
		return nil, alreadyIteratedErr()
	}
	r.buffered = true
	r.mu.Unlock()

	var values [][]byte
	for r.Next(ctx) {
		values = append(values, r.GetCurrentData())
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return &bufferedResult{codec: r.codec, values: values, ios: r.ios, timing: r.timing}, nil
}

// bufferedResult is a fully materialized, freely re-iterable snapshot
// of a Result.
type bufferedResult struct {
	codec   wire.Codec
	values  [][]byte
	cursor  int
	current []byte
	ios     IOUsage
	timing  TimingInformation
}

func (b *bufferedResult) Next(ctx context.Context) bool {
	if b.cursor >= len(b.values) {
		return false
	}
	b.current = b.values[b.cursor]
	b.cursor++
	return true
}

func (b *bufferedResult) GetCurrentData() []byte { return b.current }
func (b *bufferedResult) Err() error             { return nil }
func (b *bufferedResult) IsEmpty() bool          { return len(b.values) == 0 }
func (b *bufferedResult) GetConsumedIOs() IOUsage { return b.ios }
func (b *bufferedResult) GetTimingInformation() TimingInformation { return b.timing }

// Reset rewinds a buffered result's cursor so it can be iterated
// again from the start.
func (b *bufferedResult) Reset() { b.cursor = 0 }

// buffer on an already-buffered result is idempotent: it just hands
// back a fresh cursor over the same materialized values.
func (b *bufferedResult) buffer(ctx context.Context) (Result, error) {
	return &bufferedResult{codec: b.codec, values: b.values, ios: b.ios, timing: b.timing}, nil
}

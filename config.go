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
	"errors"
	"time"

	"github.com/qldb-community/qldbdriver-go/internal/metrics"
	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/internal/wire"
	"github.com/qldb-community/qldbdriver-go/log"
)

// Executor runs fn asynchronously. The default spawns a goroutine per
// call; overriding it lets callers route prefetch workers through a
// shared worker pool instead of an unbounded number of goroutines.
type Executor func(fn func())

func defaultExecutor(fn func()) { go fn() }

// ClientFactory builds the RPC transport the driver issues session
// commands against. Required; see qldbapi.NewAWSClient for the
// default AWS-backed implementation.
type ClientFactory func() (qldbapi.Client, error)

// DriverOptions holds every build-time configuration point: ledger
// name, RPC client factory, retry policy, codec, read-ahead depth,
// worker executor, and max concurrent transactions.
type DriverOptions struct {
	LedgerName     string
	NewClient      ClientFactory
	RetryPolicy    RetryPolicy
	Codec          wire.Codec
	ReadAheadDepth int
	Executor       Executor

	// MaxConcurrentTransactions bounds the session pool's capacity. It
	// defaults to 10; the default is not derived from the transport's
	// connection limits (qldbapi.NewAWSClient takes its own pool size).
	MaxConcurrentTransactions int

	// AcquireTimeout bounds how long Execute waits for a pool permit
	// before failing with NoSessionAvailable. The default is small by
	// design: a saturated pool should fail fast so the caller can back
	// off or route elsewhere, rather than queue silently behind other
	// transactions. Zero means wait until ctx is done; raise it only if
	// queuing behind in-flight transactions is actually preferable to a
	// fast failure for your workload.
	AcquireTimeout time.Duration

	Logger  log.Logger
	Metrics metrics.Recorder
}

// DriverOption configures a Driver at construction time, matching the
// functional-options idiom RetryPolicyOption also uses for RetryPolicy.
type DriverOption func(*DriverOptions)

func WithRetryPolicy(p RetryPolicy) DriverOption {
	return func(o *DriverOptions) { o.RetryPolicy = p }
}

func WithCodec(c wire.Codec) DriverOption {
	return func(o *DriverOptions) { o.Codec = c }
}

// WithReadAheadDepth sets the bounded prefetch queue depth. Depths
// below 2 fall back to synchronous on-demand paging; the prefetcher
// only engages at depth 2 or greater.
func WithReadAheadDepth(n int) DriverOption {
	return func(o *DriverOptions) { o.ReadAheadDepth = n }
}

func WithExecutor(e Executor) DriverOption {
	return func(o *DriverOptions) { o.Executor = e }
}

func WithMaxConcurrentTransactions(n int) DriverOption {
	return func(o *DriverOptions) { o.MaxConcurrentTransactions = n }
}

func WithAcquireTimeout(d time.Duration) DriverOption {
	return func(o *DriverOptions) { o.AcquireTimeout = d }
}

func WithLogger(l log.Logger) DriverOption {
	return func(o *DriverOptions) { o.Logger = l }
}

func WithMetrics(r metrics.Recorder) DriverOption {
	return func(o *DriverOptions) { o.Metrics = r }
}

func newDriverOptions(ledgerName string, newClient ClientFactory, opts ...DriverOption) (*DriverOptions, error) {
	if ledgerName == "" {
		return nil, errors.New("qldbdriver: ledger name is required")
	}
	if newClient == nil {
		return nil, errors.New("qldbdriver: a ClientFactory is required")
	}

	o := &DriverOptions{
		LedgerName:                ledgerName,
		NewClient:                 newClient,
		RetryPolicy:               NewRetryPolicy(),
		Codec:                     wire.NewIonCodec(),
		ReadAheadDepth:            0,
		Executor:                  defaultExecutor,
		MaxConcurrentTransactions: 10,
		AcquireTimeout:            time.Millisecond,
		Logger:                    log.Default(),
		Metrics:                   metrics.Nop,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

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
	"errors"
	"sync/atomic"
	"time"

	"github.com/qldb-community/qldbdriver-go/internal/pool"
	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/internal/retry"
	"github.com/qldb-community/qldbdriver-go/log"
)

const tableNamesQuery = `SELECT VALUE name FROM information_schema.user_tables WHERE status = 'ACTIVE'`

// Driver is the top-level handle applications hold: it owns the RPC
// client, the session pool, and the default retry policy, and runs
// the execute-loop for every call to Execute.
//
// A fixed-capacity pool bounds how many transactions can run at once,
// and a dedicated retry.State tracks each Execute call's progress
// across attempts so the loop can tell a mandatory session-replacement
// retry apart from a policy-charged one.
type Driver struct {
	opts   *DriverOptions
	client qldbapi.Client
	pool   *pool.Pool[*Session]

	closed atomic.Bool
}

// New builds a Driver against the given ledger, using newClient to
// construct the RPC transport. Both are required; see
// qldbapi.NewAWSClient for the default transport.
func New(ledgerName string, newClient ClientFactory, opts ...DriverOption) (*Driver, error) {
	o, err := newDriverOptions(ledgerName, newClient, opts...)
	if err != nil {
		return nil, err
	}
	client, err := o.NewClient()
	if err != nil {
		return nil, err
	}
	return &Driver{
		opts:   o,
		client: client,
		pool:   pool.New[*Session](o.MaxConcurrentTransactions),
	}, nil
}

func (d *Driver) createSession(ctx context.Context) (*Session, error) {
	return startSession(ctx, d.client, d.opts.LedgerName, d.opts.Logger)
}

// acquire gets a session from the pool, bounded by AcquireTimeout.
// replace bypasses the idle FIFO (used for the mandatory dead-session
// retry and for policy retries that must rotate sessions).
func (d *Driver) acquire(ctx context.Context, replace bool) (*Session, error) {
	if d.closed.Load() {
		return nil, driverClosedErr()
	}

	acquireCtx := ctx
	if d.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, d.opts.AcquireTimeout)
		defer cancel()
	}

	var session *Session
	var err error
	if replace {
		session, err = d.pool.AcquireNewPermit(acquireCtx, d.createSession)
	} else {
		session, err = d.pool.Acquire(acquireCtx, d.createSession)
	}
	if err == nil {
		d.opts.Metrics.SessionsInUse(d.pool.Stats().InUse)
		return session, nil
	}

	if errors.Is(err, pool.ErrClosed) {
		return nil, driverClosedErr()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, noSessionAvailableErr()
	}
	if errors.Is(err, context.Canceled) {
		return nil, interruptedErr(err)
	}
	return nil, classify(err, "")
}

// release returns a still-healthy session to the pool; discard drops
// a dead one, freeing its permit without making it available again.
func (d *Driver) release(session *Session) {
	if session.IsDead() {
		d.pool.Discard()
		return
	}
	d.pool.Release(session)
	d.opts.Metrics.SessionsIdle(d.pool.Stats().Idle)
}

// Execute runs lambda inside a managed transaction, applying the
// given retry policy (or the Driver's default if none is given). It
// acquires a session, starts a transaction, runs the lambda, implicitly
// buffers a directly returned streaming Result, commits, and releases
// the session. On a classified error it aborts, rotates the session if
// needed, and retries according to policy.
func Execute[T any](ctx context.Context, d *Driver, lambda func(ctx context.Context, txn TxnExecutor) (T, error), policy ...RetryPolicy) (T, error) {
	var zero T

	p := d.opts.RetryPolicy
	if len(policy) > 0 {
		p = policy[0]
	}
	state := retry.NewState(p.MaxRetries)

	replaceSession := false
	for {
		value, err := attemptOnce(ctx, d, lambda, replaceSession)
		if err == nil {
			return value, nil
		}

		ce, ok := err.(*classifiedError)
		if !ok {
			return zero, err
		}

		decision := state.RecordFailure(ce.retryable, ce.isSessionInvalid, ce.kind.String(), ce.transactionID)
		switch decision {
		case retry.DecisionStop:
			return zero, ce.toDriverError()
		case retry.DecisionMandatoryRetry:
			d.opts.Logger.Debugf(log.Driver, "", "session invalid on first attempt, retrying with a fresh session")
			replaceSession = true
		case retry.DecisionRetry:
			d.opts.Metrics.RetryAttempted(ce.kind.String())
			replaceSession = ce.sessionDead
			delay := p.Backoff(RetryContext{Attempt: state.PolicyRetries, LastErrorKind: ce.kind, TransactionID: ce.transactionID})
			if delay > 0 {
				if err := sleepWithContext(ctx, delay); err != nil {
					return zero, interruptedErr(err)
				}
			}
		}
	}
}

// attemptOnce runs exactly one iteration of the execute-loop's body:
// acquire a session and start a transaction, run the lambda, implicitly
// buffer a directly returned streaming Result, commit, and release the
// session. Any failure along the way is returned as a *classifiedError
// for Execute's retry state machine to interpret.
func attemptOnce[T any](ctx context.Context, d *Driver, lambda func(ctx context.Context, txn TxnExecutor) (T, error), replaceSession bool) (T, error) {
	var zero T

	session, err := d.acquire(ctx, replaceSession)
	if err != nil {
		ce, ok := err.(*classifiedError)
		if !ok {
			ce = classify(err, "")
		}
		return zero, ce
	}

	txnID, err := session.startTransaction(ctx)
	if err != nil {
		d.release(session)
		return zero, err.(*classifiedError)
	}

	txn := newTransaction(session, txnID, d.opts.Codec, d.opts.Logger, d.opts.ReadAheadDepth, d.opts.Executor)

	value, lambdaErr := lambda(ctx, txn)
	if lambdaErr != nil {
		if txn.noThrowAbort(ctx) {
			session.markDead()
		}
		d.release(session)
		ce, ok := lambdaErr.(*classifiedError)
		if !ok {
			ce = classify(lambdaErr, txn.id)
		}
		if ce.kind == KindAborted {
			d.opts.Metrics.TransactionAborted()
		}
		return zero, ce
	}

	// Implicitly buffer a streaming Result returned directly from the
	// lambda: it must survive past commit, which invalidates every
	// still-streaming Result tied to this transaction.
	if res, ok := any(value).(Result); ok {
		if b, ok := res.(bufferer); ok {
			buffered, err := b.buffer(ctx)
			if err != nil {
				if txn.noThrowAbort(ctx) {
					session.markDead()
				}
				d.release(session)
				ce, ok := err.(*classifiedError)
				if !ok {
					ce = classify(err, txn.id)
				}
				return zero, ce
			}
			value = any(buffered).(T)
		}
	}

	if err := txn.commit(ctx); err != nil {
		ce := err.(*classifiedError)
		if ce.sessionDead {
			session.markDead()
		}
		if ce.kind == KindDigestMismatch {
			d.opts.Metrics.DigestMismatch()
		}
		d.release(session)
		return zero, ce
	}

	d.opts.Metrics.TransactionCommitted()
	d.release(session)
	return value, nil
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTableNames returns the names of active tables in the ledger, via
// a fixed introspection statement against information_schema.
func (d *Driver) GetTableNames(ctx context.Context) ([]string, error) {
	return Execute(ctx, d, func(ctx context.Context, txn TxnExecutor) ([]string, error) {
		result, err := txn.Execute(ctx, tableNamesQuery)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0)
		for result.Next(ctx) {
			var name string
			if err := d.opts.Codec.Unmarshal(result.GetCurrentData(), &name); err != nil {
				return nil, incorrectTypeErr(err)
			}
			names = append(names, name)
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return names, nil
	})
}

// Close shuts the driver down: no further Execute calls are accepted,
// and every idle session is ended.
func (d *Driver) Close(ctx context.Context) {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.pool.Close(ctx, func(ctx context.Context, s *Session) error {
		return s.endSession(ctx)
	})
}

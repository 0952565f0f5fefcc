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

	"github.com/qldb-community/qldbdriver-go/internal/wire"
	"github.com/qldb-community/qldbdriver-go/log"
)

type txnState int32

const (
	txnOpen txnState = iota
	txnCommitted
	txnAborted
	txnClosed
)

// TxnExecutor is the view of a Transaction exposed to a user lambda:
// execute statements, explicitly abort, or read the transaction id.
// Commit is never exposed here. It is the execute-loop's
// responsibility alone.
type TxnExecutor interface {
	Execute(ctx context.Context, statement string, parameters ...interface{}) (Result, error)
	Abort(ctx context.Context) error
	TransactionID() string
}

// Transaction is the per-attempt state machine driving one QLDB
// transaction. It holds a non-owning reference to the Session that
// issued it. The execute-loop owns the Session through its pool
// permit for the duration of the attempt; the Transaction never does,
// which avoids a reference cycle between the two.
type Transaction struct {
	id             string
	session        *Session
	digest         *txnDigest
	codec          wire.Codec
	logger         log.Logger
	readAheadDepth int
	executor       Executor

	state         atomic.Int32
	streamingTxns []*streamingResult
}

func newTransaction(session *Session, id string, codec wire.Codec, logger log.Logger, readAheadDepth int, executor Executor) *Transaction {
	return &Transaction{
		id:             id,
		session:        session,
		digest:         newTxnDigest(id),
		codec:          codec,
		logger:         logger,
		readAheadDepth: readAheadDepth,
		executor:       executor,
	}
}

// TransactionID returns the server-issued transaction id.
func (t *Transaction) TransactionID() string { return t.id }

func (t *Transaction) currentState() txnState {
	return txnState(t.state.Load())
}

func (t *Transaction) isClosed() bool {
	return t.currentState() != txnOpen
}

// Execute sends an execute command, advances the rolling digest, and
// returns a streaming Result over the first page.
func (t *Transaction) Execute(ctx context.Context, statement string, parameters ...interface{}) (Result, error) {
	if t.isClosed() {
		return nil, txnClosedErr(t.id)
	}

	encoded := make([][]byte, len(parameters))
	for i, p := range parameters {
		b, err := t.codec.Marshal(p)
		if err != nil {
			return nil, &classifiedError{kind: KindBadRequest, cause: err, transactionID: t.id}
		}
		encoded[i] = b
	}

	page, stats, err := t.session.execute(ctx, t.id, statement, encoded)
	if err != nil {
		ce := err.(*classifiedError)
		if ce.sessionDead {
			t.state.Store(int32(txnClosed))
			t.invalidateStreams()
		}
		return nil, ce
	}

	t.digest.update(statement, encoded)

	res := newStreamingResult(t, t.session, page, stats)
	res.withPrefetch(ctx, t.readAheadDepth, page.NextPageToken, t.session, t.executor)
	t.streamingTxns = append(t.streamingTxns, res)
	return res, nil
}

// abortInternal sends the abort command and updates state, shared by
// the user-facing Abort and the execute-loop's best-effort cleanup.
// sessionDead reports whether the session must not be reused
// regardless of which caller invoked it.
func (t *Transaction) abortInternal(ctx context.Context) (sessionDead bool, err error) {
	if t.isClosed() {
		return t.currentState() == txnClosed, nil
	}
	if err := t.session.abort(ctx); err != nil {
		ce := err.(*classifiedError)
		if ce.sessionDead {
			t.state.Store(int32(txnClosed))
			t.invalidateStreams()
			return true, ce
		}
		t.logger.Warnf(log.Transaction, t.id, "abort reported a non-fatal error: %v", ce)
		t.state.Store(int32(txnAborted))
		t.invalidateStreams()
		return false, nil
	}
	t.state.Store(int32(txnAborted))
	t.invalidateStreams()
	return false, nil
}

// Abort is idempotent-safe: a no-op if the transaction already reached
// a terminal state. It sends an abort command otherwise; a
// session-invalid response closes the session and propagates, other
// transport errors are logged and swallowed. On a successful,
// caller-initiated abort it returns an Aborted error, so the
// execute-loop (which the lambda should return this error to)
// recognizes the outcome as deliberate and does not retry.
func (t *Transaction) Abort(ctx context.Context) error {
	if t.isClosed() {
		return nil
	}
	sessionDead, err := t.abortInternal(ctx)
	if err != nil {
		return err
	}
	if sessionDead {
		return nil
	}
	return abortedErr(t.id)
}

// noThrowAbort is the execute-loop's best-effort cleanup call: it never
// returns an error for the caller to handle directly, except it
// reports whether the session is now known dead so the loop can decide
// release vs discard without re-deriving that from the original error.
func (t *Transaction) noThrowAbort(ctx context.Context) (sessionDead bool) {
	dead, _ := t.abortInternal(ctx)
	return dead
}

// commit sends the commit command carrying the rolling digest and
// validates it against the digest the server reports back. On any
// error other than one that marks the session dead it attempts a
// best-effort abort before propagating. It is
// callable at most once per transaction; the execute-loop enforces
// that by only ever calling it once per attempt.
func (t *Transaction) commit(ctx context.Context) error {
	if t.isClosed() {
		return txnClosedErr(t.id)
	}

	serverDigest, err := t.session.commit(ctx, t.id, t.digest.bytes())
	if err != nil {
		ce := err.(*classifiedError)
		if ce.sessionDead {
			// The session is already known dead; no point sending it
			// another command. The client MUST still assume the commit
			// status is unknown.
			t.state.Store(int32(txnClosed))
		} else {
			t.noThrowAbort(ctx)
		}
		t.invalidateStreams()
		return ce
	}

	if serverDigest != t.digest.bytes() {
		t.noThrowAbort(ctx)
		t.state.Store(int32(txnClosed))
		t.invalidateStreams()
		return digestMismatchErr(t.id)
	}

	t.state.Store(int32(txnCommitted))
	t.invalidateStreams()
	return nil
}

func (t *Transaction) invalidateStreams() {
	for _, s := range t.streamingTxns {
		s.invalidateParent()
	}
}

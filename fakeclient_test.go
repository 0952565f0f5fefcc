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
	"fmt"
	"sync"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/log"
)

// fakeClient is a scriptable in-memory qldbapi.Client, standing in for
// the real AWS-backed transport so the driver's retry/session/result
// logic can be exercised without a network.
type fakeClient struct {
	mu sync.Mutex

	startSessionErr error
	sessionTokens   int

	startTransactionErr        error
	startTransactionFailNTimes int
	transactionIDs             int

	// pages, keyed by transaction id, is consumed in order by
	// ExecuteStatement (the first entry) and FetchPage (the rest).
	pages map[string][]qldbapi.Page

	// executeErr/fetchErr, keyed by transaction id, fail the
	// corresponding call for that one transaction when set.
	executeErr map[string]error
	fetchErr   map[string]error

	commitDigest    map[string][32]byte
	commitErr       map[string]error
	commitCallCount map[string]int

	abortErr   error
	abortCalls int

	endSessionErr   error
	endSessionCalls int

	// fetchCursor tracks how many pages past the first (already
	// returned by ExecuteStatement) have been handed out per
	// transaction, so FetchPage can just pop the next one in order.
	fetchCursor map[string]int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:             make(map[string][]qldbapi.Page),
		executeErr:        make(map[string]error),
		fetchErr:          make(map[string]error),
		commitDigest:      make(map[string][32]byte),
		commitErr:         make(map[string]error),
		commitCallCount:   make(map[string]int),
		fetchCursor:       make(map[string]int),
	}
}

func (f *fakeClient) StartSession(ctx context.Context, ledgerName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startSessionErr != nil {
		return "", f.startSessionErr
	}
	f.sessionTokens++
	return fmt.Sprintf("session-%d", f.sessionTokens), nil
}

func (f *fakeClient) StartTransaction(ctx context.Context, sessionToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startTransactionFailNTimes > 0 {
		f.startTransactionFailNTimes--
		return "", f.startTransactionErr
	}
	f.transactionIDs++
	return fmt.Sprintf("txn-%d", f.transactionIDs), nil
}

func (f *fakeClient) ExecuteStatement(ctx context.Context, sessionToken, transactionID, statement string, parameters [][]byte) (qldbapi.Page, *qldbapi.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.executeErr[transactionID]; ok {
		return qldbapi.Page{}, nil, err
	}
	pages := f.pages[transactionID]
	if len(pages) == 0 {
		return qldbapi.Page{}, &qldbapi.Stats{}, nil
	}
	return pages[0], &qldbapi.Stats{ReadIOs: 1}, nil
}

func (f *fakeClient) FetchPage(ctx context.Context, sessionToken, transactionID, pageToken string) (qldbapi.Page, *qldbapi.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.fetchErr[transactionID]; ok {
		return qldbapi.Page{}, nil, err
	}
	pages := f.pages[transactionID]
	f.fetchCursor[transactionID]++
	idx := f.fetchCursor[transactionID] // pages[0] was already consumed by ExecuteStatement
	if idx >= len(pages) {
		return qldbapi.Page{}, &qldbapi.Stats{}, nil
	}
	return pages[idx], &qldbapi.Stats{ReadIOs: 1}, nil
}

func (f *fakeClient) CommitTransaction(ctx context.Context, sessionToken, transactionID string, digest [32]byte) ([32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCallCount[transactionID]++
	if err, ok := f.commitErr[transactionID]; ok {
		return [32]byte{}, err
	}
	if d, ok := f.commitDigest[transactionID]; ok {
		return d, nil
	}
	return digest, nil
}

func (f *fakeClient) AbortTransaction(ctx context.Context, sessionToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	return f.abortErr
}

func (f *fakeClient) EndSession(ctx context.Context, sessionToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endSessionCalls++
	return f.endSessionErr
}

// newTestSession builds a Session directly against a fakeClient,
// bypassing startSession's RPC round trip.
func newTestSession(client qldbapi.Client, token string) *Session {
	return &Session{client: client, token: token, logID: token, logger: log.NopLogger{}}
}

func serverErr(code, transactionID string) error {
	return &qldbapi.ServerError{Code: code, Message: "fake", TransactionID: transactionID}
}

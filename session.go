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

	"github.com/google/uuid"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/log"
)

// Session owns a server-issued session token and proxies the six RPC
// operations a client transport exposes. It becomes logically dead
// (one-way) the moment the server reports the token invalid; a dead
// session must never be returned to the pool (enforced by its caller,
// not by Session itself).
//
// Session is not safe for concurrent use: the pool hands it to exactly
// one holder at a time.
type Session struct {
	client qldbapi.Client
	token  string
	logID  string
	logger log.Logger

	dead atomic.Bool
}

func startSession(ctx context.Context, client qldbapi.Client, ledgerName string, logger log.Logger) (*Session, error) {
	logID := uuid.NewString()
	logger.Debugf(log.Session, logID, "starting session on ledger %q", ledgerName)
	token, err := client.StartSession(ctx, ledgerName)
	if err != nil {
		return nil, classify(err, "")
	}
	return &Session{client: client, token: token, logID: logID, logger: logger}, nil
}

// IsDead reports whether the server has told us this session's token
// is no longer valid.
func (s *Session) IsDead() bool { return s.dead.Load() }

func (s *Session) markDead() { s.dead.Store(true) }

func (s *Session) startTransaction(ctx context.Context) (string, error) {
	id, err := s.client.StartTransaction(ctx, s.token)
	if err != nil {
		return "", s.classifyAndMark(err, "")
	}
	s.logger.Debugf(log.Session, s.logID, "started transaction %s", id)
	return id, nil
}

func (s *Session) execute(ctx context.Context, transactionID, statement string, params [][]byte) (qldbapi.Page, *qldbapi.Stats, error) {
	page, stats, err := s.client.ExecuteStatement(ctx, s.token, transactionID, statement, params)
	if err != nil {
		return qldbapi.Page{}, nil, s.classifyAndMark(err, transactionID)
	}
	return page, stats, nil
}

func (s *Session) fetchPage(ctx context.Context, transactionID, pageToken string) (qldbapi.Page, *qldbapi.Stats, error) {
	page, stats, err := s.client.FetchPage(ctx, s.token, transactionID, pageToken)
	if err != nil {
		return qldbapi.Page{}, nil, s.classifyAndMark(err, transactionID)
	}
	return page, stats, nil
}

func (s *Session) commit(ctx context.Context, transactionID string, digest [32]byte) ([32]byte, error) {
	commitDigest, err := s.client.CommitTransaction(ctx, s.token, transactionID, digest)
	if err != nil {
		return [32]byte{}, s.classifyAndMark(err, transactionID)
	}
	return commitDigest, nil
}

func (s *Session) abort(ctx context.Context) error {
	if err := s.client.AbortTransaction(ctx, s.token); err != nil {
		return s.classifyAndMark(err, "")
	}
	return nil
}

func (s *Session) endSession(ctx context.Context) error {
	if err := s.client.EndSession(ctx, s.token); err != nil {
		return classify(err, "")
	}
	return nil
}

func (s *Session) classifyAndMark(err error, transactionID string) *classifiedError {
	ce := classify(err, transactionID)
	if ce.sessionDead {
		s.markDead()
	}
	return ce
}

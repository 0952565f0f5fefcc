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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
	"github.com/qldb-community/qldbdriver-go/internal/wire"
	"github.com/qldb-community/qldbdriver-go/log"
)

func newTestTransaction(session *Session, id string) *Transaction {
	return newTransaction(session, id, wire.NewIonCodec(), log.NopLogger{}, 0, defaultExecutor)
}

func collectAll(ctx context.Context, r Result) ([][]byte, error) {
	var out [][]byte
	for r.Next(ctx) {
		out = append(out, r.GetCurrentData())
	}
	return out, r.Err()
}

func TestStreamingResult_IteratesAcrossMultiplePages(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")

	client.pages["txn-1"] = []qldbapi.Page{
		{Values: [][]byte{[]byte("a"), []byte("b")}, NextPageToken: "p2"},
		{Values: [][]byte{[]byte("c")}, NextPageToken: "p3"},
		{Values: [][]byte{[]byte("d")}, NextPageToken: ""},
	}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)

	values, err := collectAll(context.Background(), res)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}, values)
}

func TestStreamingResult_IsEmptyWhenFirstPageHasNoValuesAndNoNextToken(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{{Values: nil, NextPageToken: ""}}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo WHERE 1 = 0")
	require.NoError(t, err)

	assert.True(t, res.IsEmpty())
	assert.False(t, res.Next(context.Background()))
	assert.NoError(t, res.Err())
}

func TestStreamingResult_SecondNextAfterExhaustionReportsIterationExhausted(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{{Values: [][]byte{[]byte("a")}, NextPageToken: ""}}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)

	assert.True(t, res.Next(context.Background()))
	assert.False(t, res.Next(context.Background()), "the first exhaustion call is a clean end of data")
	assert.NoError(t, res.Err())

	assert.False(t, res.Next(context.Background()), "a second call past exhaustion must report IterationExhausted")
	var ce *classifiedError
	require.ErrorAs(t, res.Err(), &ce)
	assert.Equal(t, KindIterationExhausted, ce.kind)
}

func TestStreamingResult_BufferAfterManualIterationIsAlreadyIterated(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{{Values: [][]byte{[]byte("a")}, NextPageToken: ""}}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)
	require.True(t, res.Next(context.Background()))

	streaming := res.(*streamingResult)
	_, bufErr := streaming.buffer(context.Background())

	var ce *classifiedError
	require.ErrorAs(t, bufErr, &ce)
	assert.Equal(t, KindAlreadyIterated, ce.kind)
}

func TestStreamingResult_BufferProducesTheSameValuesAsDirectIteration(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{
		{Values: [][]byte{[]byte("a"), []byte("b")}, NextPageToken: "p2"},
		{Values: [][]byte{[]byte("c")}, NextPageToken: ""},
	}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)

	streaming := res.(*streamingResult)
	buffered, err := streaming.buffer(context.Background())
	require.NoError(t, err)

	values, err := collectAll(context.Background(), buffered)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, values)
}

func TestBufferedResult_ResetAllowsReiteration(t *testing.T) {
	b := &bufferedResult{values: [][]byte{[]byte("a"), []byte("b")}}

	first, err := collectAll(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, first)

	assert.False(t, b.Next(context.Background()), "cursor must be exhausted before Reset")

	b.Reset()
	second, err := collectAll(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStreamingResult_InvalidatedParentStopsIteration(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{
		{Values: [][]byte{[]byte("a")}, NextPageToken: "p2"},
		{Values: [][]byte{[]byte("b")}, NextPageToken: ""},
	}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)
	require.True(t, res.Next(context.Background()))

	txn.invalidateStreams()

	assert.False(t, res.Next(context.Background()))
	var ce *classifiedError
	require.ErrorAs(t, res.Err(), &ce)
	assert.Equal(t, KindResultParentInactive, ce.kind)
}

func TestStreamingResult_AccumulatesIOUsageAcrossPages(t *testing.T) {
	client := newFakeClient()
	session := newTestSession(client, "session-1")
	txn := newTestTransaction(session, "txn-1")
	client.pages["txn-1"] = []qldbapi.Page{
		{Values: [][]byte{[]byte("a")}, NextPageToken: "p2"},
		{Values: [][]byte{[]byte("b")}, NextPageToken: ""},
	}

	res, err := txn.Execute(context.Background(), "SELECT * FROM Foo")
	require.NoError(t, err)

	_, err = collectAll(context.Background(), res)
	require.NoError(t, err)

	// ExecuteStatement contributes 1 ReadIO, and the one FetchPage call
	// contributes another: the accumulator must not reset per page.
	assert.Equal(t, int64(2), res.GetConsumedIOs().ReadIOs)
}

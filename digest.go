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
	"bytes"
	"crypto/sha256"
)

// txnDigest is the rolling 256-bit commit digest a transaction
// accumulates as it executes statements. It is owned exclusively by
// the Transaction that created it; there is no synchronization here
// because a transaction is never touched by two goroutines at once.
type txnDigest struct {
	value [32]byte
}

func hash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// dot is the commutative fold operator the commit digest is built
// from: sort the two operands lexicographically, concatenate smaller
// then larger, and hash the 64 bytes. It is not associative, so the
// order in which a sequence is folded changes the result.
func dot(a, b [32]byte) [32]byte {
	var buf [64]byte
	if bytes.Compare(a[:], b[:]) <= 0 {
		copy(buf[:32], a[:])
		copy(buf[32:], b[:])
	} else {
		copy(buf[:32], b[:])
		copy(buf[32:], a[:])
	}
	return sha256.Sum256(buf[:])
}

// foldDot folds a non-empty sequence of hashes left-to-right with dot.
func foldDot(hashes [][32]byte) [32]byte {
	acc := hashes[0]
	for _, h := range hashes[1:] {
		acc = dot(acc, h)
	}
	return acc
}

// newTxnDigest seeds the digest with H(transaction_id).
func newTxnDigest(transactionID string) *txnDigest {
	return &txnDigest{value: hash([]byte(transactionID))}
}

// entryHash computes the per-execute contribution: dot(stmt_hash,
// params_hash), where an execute with no parameters contributes just
// stmt_hash, with no dot applied.
func entryHash(statement string, encodedParams [][]byte) [32]byte {
	stmtHash := hash([]byte(statement))
	if len(encodedParams) == 0 {
		return stmtHash
	}
	paramHashes := make([][32]byte, len(encodedParams))
	for i, p := range encodedParams {
		paramHashes[i] = hash(p)
	}
	return dot(stmtHash, foldDot(paramHashes))
}

// update advances the digest by one executed statement, in the order
// execute was called.
func (d *txnDigest) update(statement string, encodedParams [][]byte) {
	d.value = dot(d.value, entryHash(statement, encodedParams))
}

func (d *txnDigest) bytes() [32]byte {
	return d.value
}

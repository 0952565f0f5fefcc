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
	"fmt"

	"github.com/qldb-community/qldbdriver-go/internal/qldbapi"
)

// ErrorKind classifies every error the driver can surface, per the
// taxonomy the execute-loop uses to decide retry vs propagate.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindSessionInvalid
	KindOccConflict
	KindCapacityExceeded
	KindTransientTransport
	KindServerRetryable
	KindBadRequest
	KindDigestMismatch
	KindTxnClosed
	KindDriverClosed
	KindNoSessionAvailable
	KindIncorrectType
	KindAborted
	KindInterrupted
	KindAlreadyIterated
	KindResultParentInactive
	KindIterationExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindSessionInvalid:
		return "SessionInvalid"
	case KindOccConflict:
		return "OccConflict"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	case KindTransientTransport:
		return "TransientTransport"
	case KindServerRetryable:
		return "ServerRetryable"
	case KindBadRequest:
		return "BadRequest"
	case KindDigestMismatch:
		return "DigestMismatch"
	case KindTxnClosed:
		return "TxnClosed"
	case KindDriverClosed:
		return "DriverClosed"
	case KindNoSessionAvailable:
		return "NoSessionAvailable"
	case KindIncorrectType:
		return "IncorrectType"
	case KindAborted:
		return "Aborted"
	case KindInterrupted:
		return "Interrupted"
	case KindAlreadyIterated:
		return "AlreadyIterated"
	case KindResultParentInactive:
		return "ResultParentInactive"
	case KindIterationExhausted:
		return "IterationExhausted"
	default:
		return "Unknown"
	}
}

// DriverError is the exported error type every classified failure is
// converted to at the execute-loop's boundary (see classifiedError.toDriverError).
type DriverError struct {
	Kind          ErrorKind
	TransactionID string
	Cause         error
}

func (e *DriverError) Error() string {
	if e.TransactionID != "" {
		return fmt.Sprintf("qldbdriver: %s (transaction %s): %v", e.Kind, e.TransactionID, e.Cause)
	}
	return fmt.Sprintf("qldbdriver: %s: %v", e.Kind, e.Cause)
}

func (e *DriverError) Unwrap() error { return e.Cause }

func newDriverError(kind ErrorKind, txnID string, cause error) *DriverError {
	return &DriverError{Kind: kind, TransactionID: txnID, Cause: cause}
}

// classifiedError carries retry metadata across the execute-loop
// boundary. It is never returned to callers directly; Driver.Execute
// converts it to *DriverError once the loop decides to stop retrying.
type classifiedError struct {
	kind             ErrorKind
	retryable        bool
	sessionDead      bool
	isSessionInvalid bool
	transactionID    string
	cause            error
}

func (e *classifiedError) Error() string {
	return fmt.Sprintf("qldbdriver: %s: %v", e.kind, e.cause)
}

func (e *classifiedError) Unwrap() error { return e.cause }

func (e *classifiedError) toDriverError() error {
	var alreadyClassified *classifiedError
	if errors.As(e.cause, &alreadyClassified) {
		return newDriverError(e.kind, e.transactionID, alreadyClassified.cause)
	}
	return newDriverError(e.kind, e.transactionID, e.cause)
}

// classify maps a raw error (from the RPC client, the codec, or the
// transaction/session layer) into retry metadata. Server-classified
// errors arrive pre-tagged via *qldbapi.ServerError (see
// internal/qldbapi); an already classified error is returned as is, a
// *DriverError keeps its Kind (as non-retryable), and everything else
// is treated as a non-retryable bad request, the safe default.
func classify(err error, transactionID string) *classifiedError {
	if err == nil {
		return nil
	}

	var already *classifiedError
	if errors.As(err, &already) {
		return already
	}

	var se *qldbapi.ServerError
	if errors.As(err, &se) {
		ce := &classifiedError{cause: err, transactionID: transactionID}
		if se.TransactionID != "" {
			ce.transactionID = se.TransactionID
		}
		switch se.Code {
		case qldbapi.CodeSessionInvalid:
			ce.kind = KindSessionInvalid
			ce.retryable = true
			ce.sessionDead = true
			ce.isSessionInvalid = true
		case qldbapi.CodeOccConflict:
			ce.kind = KindOccConflict
			ce.retryable = true
		case qldbapi.CodeCapacityExceeded:
			ce.kind = KindCapacityExceeded
			ce.retryable = true
		case qldbapi.CodeTransientTransport:
			ce.kind = KindTransientTransport
			ce.retryable = true
		case qldbapi.CodeServerRetryable:
			ce.kind = KindServerRetryable
			ce.retryable = true
		case qldbapi.CodeBadRequest:
			ce.kind = KindBadRequest
		default:
			ce.kind = KindBadRequest
		}
		return ce
	}

	var de *DriverError
	if errors.As(err, &de) {
		return &classifiedError{kind: de.Kind, cause: de.Cause, transactionID: de.TransactionID}
	}

	return &classifiedError{kind: KindBadRequest, cause: err, transactionID: transactionID}
}

func abortedErr(transactionID string) *classifiedError {
	return &classifiedError{kind: KindAborted, cause: errors.New("transaction aborted by caller"), transactionID: transactionID}
}

func txnClosedErr(transactionID string) *classifiedError {
	return &classifiedError{kind: KindTxnClosed, cause: errors.New("operation invoked on a closed transaction"), transactionID: transactionID}
}

func digestMismatchErr(transactionID string) *classifiedError {
	return &classifiedError{
		kind:          KindDigestMismatch,
		cause:         errors.New("commit digest returned by server does not match client digest"),
		transactionID: transactionID,
		sessionDead:   true,
	}
}

func driverClosedErr() *classifiedError {
	return &classifiedError{kind: KindDriverClosed, cause: errors.New("cannot invoke methods on a closed driver")}
}

func noSessionAvailableErr() *classifiedError {
	return &classifiedError{kind: KindNoSessionAvailable, cause: errors.New("acquiring a session from the pool timed out")}
}

func incorrectTypeErr(err error) *classifiedError {
	return &classifiedError{kind: KindIncorrectType, cause: err}
}

func interruptedErr(err error) *classifiedError {
	return &classifiedError{kind: KindInterrupted, cause: err}
}

func alreadyIteratedErr() *classifiedError {
	return &classifiedError{kind: KindAlreadyIterated, cause: errors.New("result has already been iterated or buffered")}
}

func resultParentInactiveErr(transactionID string) *classifiedError {
	return &classifiedError{
		kind:          KindResultParentInactive,
		cause:         errors.New("owning transaction is no longer open"),
		transactionID: transactionID,
	}
}

func iterationExhaustedErr() *classifiedError {
	return &classifiedError{kind: KindIterationExhausted, cause: errors.New("next called past the end of the result")}
}

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

// Package retry holds the execute-loop's per-call retry bookkeeping,
// split out from Driver.Execute so the retry/session-replacement
// decision can be unit tested in isolation.
package retry

// Decision is what the execute-loop should do after a failed attempt.
type Decision int

const (
	// DecisionStop means propagate the error; no further attempts.
	DecisionStop Decision = iota
	// DecisionMandatoryRetry means a dead session was handed out by the
	// pool on the very first attempt; always retry once with a fresh
	// session, and this does not count against MaxRetries.
	DecisionMandatoryRetry
	// DecisionRetry means retry per policy, having consumed one unit of
	// the retry budget.
	DecisionRetry
)

// State tracks one Driver.Execute call's progress across attempts.
type State struct {
	MaxRetries int

	// TotalAttempts counts every lambda invocation attempt, including
	// ones cut short by a dead session. Bounded at MaxRetries+2: the
	// initial attempt, the mandatory dead-session retry, and MaxRetries
	// policy retries.
	TotalAttempts int

	// PolicyRetries counts only the retries charged against MaxRetries;
	// the mandatory first-attempt dead-session retry is not charged.
	PolicyRetries int

	// LastErrorKind and TransactionID are carried for the backoff
	// function's RetryContext and for diagnostic logging.
	LastErrorKind string
	TransactionID string

	usedMandatoryRetry bool
}

// NewState creates a fresh State for one Driver.Execute call.
func NewState(maxRetries int) *State {
	return &State{MaxRetries: maxRetries}
}

// RecordFailure records a failed attempt and returns what to do next.
// retryable and isSessionInvalid come from the classified error;
// errorKind/transactionID are carried for diagnostics/backoff context.
func (s *State) RecordFailure(retryable, isSessionInvalid bool, errorKind, transactionID string) Decision {
	s.TotalAttempts++
	s.LastErrorKind = errorKind
	s.TransactionID = transactionID

	if isSessionInvalid && s.TotalAttempts == 1 && !s.usedMandatoryRetry {
		s.usedMandatoryRetry = true
		return DecisionMandatoryRetry
	}

	if !retryable || s.PolicyRetries >= s.MaxRetries {
		return DecisionStop
	}
	s.PolicyRetries++
	return DecisionRetry
}

// Attempt returns the 1-based index of the attempt about to run
// (i.e. TotalAttempts+1), useful for logging.
func (s *State) Attempt() int {
	return s.TotalAttempts + 1
}

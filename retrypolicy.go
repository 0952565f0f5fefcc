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
	"math/rand"
	"time"
)

// RetryContext carries the information a BackoffFunc needs to compute
// the next sleep duration.
type RetryContext struct {
	// Attempt is 1-based: the first retry (not the initial attempt) is 1.
	Attempt int
	// LastErrorKind is the classification of the error that triggered this retry.
	LastErrorKind ErrorKind
	// TransactionID is set when the failed attempt managed to start a transaction.
	TransactionID string
}

// BackoffFunc computes the delay before the next retry attempt. A
// negative or zero result means "retry immediately."
type BackoffFunc func(RetryContext) time.Duration

// RetryPolicy bounds the execute-loop's retry behavior: at most
// MaxRetries retries (not counting the mandatory first-attempt
// dead-session retry), with Backoff computing the delay between them.
type RetryPolicy struct {
	MaxRetries int
	Backoff    BackoffFunc
}

// RetryPolicyOption configures a RetryPolicy via NewRetryPolicy,
// matching the functional-options idiom used by DriverOptions.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxRetries overrides the default retry budget.
func WithMaxRetries(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxRetries = n }
}

// WithBackoff overrides the default backoff strategy.
func WithBackoff(fn BackoffFunc) RetryPolicyOption {
	return func(p *RetryPolicy) { p.Backoff = fn }
}

// NewRetryPolicy builds a RetryPolicy starting from the package
// default (4 retries, equal-jitter exponential backoff) and applying
// the given options.
func NewRetryPolicy(opts ...RetryPolicyOption) RetryPolicy {
	p := defaultRetryPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 4,
		Backoff:    EqualJitterBackoff(10*time.Millisecond, 5000*time.Millisecond),
	}
}

// ExponentialBackoff returns a plain capped exponential backoff with no
// jitter: min(cap, base * 2^(attempt-1)). This mirrors
// ExponentialBackoffStrategy from the AWS reference driver, kept for
// callers who want bit-exact parity with it.
func ExponentialBackoff(base, cap time.Duration) BackoffFunc {
	return func(rc RetryContext) time.Duration {
		d := base << uint(rc.Attempt-1)
		if d <= 0 || d > cap {
			d = cap
		}
		return d
	}
}

// EqualJitterBackoff returns an exponential backoff with equal jitter:
// half the capped exponential value, plus a uniform random amount up
// to the other half. This is the package default; note that the AWS
// reference driver's own ExponentialBackoffStrategy does not actually
// apply jitter despite its name.
func EqualJitterBackoff(base, cap time.Duration) BackoffFunc {
	return func(rc RetryContext) time.Duration {
		temp := base << uint(rc.Attempt-1)
		if temp <= 0 || temp > cap {
			temp = cap
		}
		half := temp / 2
		return half + time.Duration(rand.Int63n(int64(half)+1))
	}
}

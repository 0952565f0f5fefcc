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

// Package qldbapi is the RPC transport boundary: the seven operations the
// driver core calls against the ledger service, kept behind an
// interface so the core never depends on a concrete transport.
package qldbapi

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/qldbsession"
	"github.com/aws/aws-sdk-go/service/qldbsession/qldbsessioniface"
	"golang.org/x/net/http2"
)

// Page is one chunk of a streaming result set.
type Page struct {
	Values        [][]byte
	NextPageToken string
}

// Stats is the per-call IO/timing telemetry the server reports
// alongside an ExecuteStatement or FetchPage response.
type Stats struct {
	ReadIOs         int64
	WriteIOs        int64
	ProcessingTime  time.Duration
}

// Client is the seven-operation RPC surface consumed by the session
// layer. All operations are blocking request/response. One Client is
// shared by every session of a Driver, so it is called concurrently
// for different session tokens; the pool hands each session to one
// holder at a time, so a single session token is never used
// concurrently.
type Client interface {
	StartSession(ctx context.Context, ledgerName string) (sessionToken string, err error)
	StartTransaction(ctx context.Context, sessionToken string) (transactionID string, err error)
	ExecuteStatement(ctx context.Context, sessionToken, transactionID, statement string, parameters [][]byte) (Page, *Stats, error)
	FetchPage(ctx context.Context, sessionToken, transactionID, pageToken string) (Page, *Stats, error)
	CommitTransaction(ctx context.Context, sessionToken, transactionID string, digest [32]byte) (commitDigest [32]byte, err error)
	AbortTransaction(ctx context.Context, sessionToken string) error
	EndSession(ctx context.Context, sessionToken string) error
}

// Server error codes the execute-loop's classifier (errors.go's
// classify) switches on.
const (
	CodeSessionInvalid     = "InvalidSessionException"
	CodeOccConflict        = "OccConflictException"
	CodeCapacityExceeded   = "CapacityExceededException"
	CodeTransientTransport = "TransientTransport"
	CodeServerRetryable    = "ServerRetryable"
	CodeBadRequest         = "BadRequestException"
)

// ServerError wraps a classified server-reported failure. The driver's
// errors.go classifier matches on this type with errors.As; transports
// other than the default AWS-backed one can produce their own
// ServerError values to integrate with the same classifier.
type ServerError struct {
	Code          string
	Message       string
	TransactionID string
}

func (e *ServerError) Error() string { return e.Code + ": " + e.Message }

// awsClient is the default Client, backed by the QLDB session service
// client from aws-sdk-go.
type awsClient struct {
	api qldbsessioniface.QLDBSessionAPI
}

// NewAWSClient builds the default Client. maxConcurrentTransactions
// sets the transport's MaxIdleConns and MaxIdleConnsPerHost. It is not
// linked to DriverOptions.MaxConcurrentTransactions; callers pass the
// same value to both if they want them to match.
func NewAWSClient(cfg *aws.Config, maxConcurrentTransactions int) (Client, error) {
	httpClient := &http.Client{Timeout: 0}
	transport := &http.Transport{
		MaxIdleConns:        maxConcurrentTransactions,
		MaxIdleConnsPerHost: maxConcurrentTransactions,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}
	httpClient.Transport = transport

	cfgCopy := cfg.Copy()
	cfgCopy.HTTPClient = httpClient
	sess, err := session.NewSession(cfgCopy)
	if err != nil {
		return nil, err
	}
	return &awsClient{api: qldbsession.New(sess)}, nil
}

// NewAWSClientFromAPI wraps an already-constructed SDK client, useful
// for tests that inject a fake qldbsessioniface.QLDBSessionAPI.
func NewAWSClientFromAPI(api qldbsessioniface.QLDBSessionAPI) Client {
	return &awsClient{api: api}
}

func (c *awsClient) StartSession(ctx context.Context, ledgerName string) (string, error) {
	out, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		StartSession: &qldbsession.StartSessionRequest{LedgerName: aws.String(ledgerName)},
	})
	if err != nil {
		return "", translateAWSError(err, "")
	}
	return aws.StringValue(out.StartSession.SessionToken), nil
}

func (c *awsClient) StartTransaction(ctx context.Context, sessionToken string) (string, error) {
	out, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken:     aws.String(sessionToken),
		StartTransaction: &qldbsession.StartTransactionRequest{},
	})
	if err != nil {
		return "", translateAWSError(err, "")
	}
	return aws.StringValue(out.StartTransaction.TransactionId), nil
}

func (c *awsClient) ExecuteStatement(ctx context.Context, sessionToken, transactionID, statement string, parameters [][]byte) (Page, *Stats, error) {
	params := make([]*qldbsession.ValueHolder, len(parameters))
	for i, p := range parameters {
		params[i] = &qldbsession.ValueHolder{IonBinary: p}
	}
	out, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken: aws.String(sessionToken),
		ExecuteStatement: &qldbsession.ExecuteStatementRequest{
			TransactionId: aws.String(transactionID),
			Statement:     aws.String(statement),
			Parameters:    params,
		},
	})
	if err != nil {
		return Page{}, nil, translateAWSError(err, transactionID)
	}
	page, stats := fromExecuteResult(out.ExecuteStatement)
	return page, stats, nil
}

func (c *awsClient) FetchPage(ctx context.Context, sessionToken, transactionID, pageToken string) (Page, *Stats, error) {
	out, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken: aws.String(sessionToken),
		FetchPage: &qldbsession.FetchPageRequest{
			TransactionId: aws.String(transactionID),
			PageToken:     aws.String(pageToken),
		},
	})
	if err != nil {
		return Page{}, nil, translateAWSError(err, transactionID)
	}
	return fromPageResult(out.FetchPage.Page, out.FetchPage.ConsumedIOs, out.FetchPage.TimingInformation)
}

func (c *awsClient) CommitTransaction(ctx context.Context, sessionToken, transactionID string, digest [32]byte) ([32]byte, error) {
	out, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken: aws.String(sessionToken),
		CommitTransaction: &qldbsession.CommitTransactionRequest{
			TransactionId: aws.String(transactionID),
			CommitDigest:  digest[:],
		},
	})
	if err != nil {
		return [32]byte{}, translateAWSError(err, transactionID)
	}
	var result [32]byte
	copy(result[:], out.CommitTransaction.CommitDigest)
	return result, nil
}

func (c *awsClient) AbortTransaction(ctx context.Context, sessionToken string) error {
	_, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken:     aws.String(sessionToken),
		AbortTransaction: &qldbsession.AbortTransactionRequest{},
	})
	if err != nil {
		return translateAWSError(err, "")
	}
	return nil
}

func (c *awsClient) EndSession(ctx context.Context, sessionToken string) error {
	_, err := c.api.SendCommandWithContext(ctx, &qldbsession.SendCommandInput{
		SessionToken: aws.String(sessionToken),
		EndSession:   &qldbsession.EndSessionRequest{},
	})
	if err != nil {
		return translateAWSError(err, "")
	}
	return nil
}

func fromExecuteResult(res *qldbsession.ExecuteStatementResult) (Page, *Stats) {
	return fromPageResultLite(res.FirstPage, res.ConsumedIOs, res.TimingInformation)
}

func fromPageResultLite(page *qldbsession.Page, ios *qldbsession.IOUsage, timing *qldbsession.TimingInformation) (Page, *Stats) {
	p, stats, _ := fromPageResult(page, ios, timing)
	return p, stats
}

func fromPageResult(page *qldbsession.Page, ios *qldbsession.IOUsage, timing *qldbsession.TimingInformation) (Page, *Stats, error) {
	values := make([][]byte, len(page.Values))
	for i, v := range page.Values {
		values[i] = v.IonBinary
	}
	p := Page{Values: values}
	if page.NextPageToken != nil {
		p.NextPageToken = aws.StringValue(page.NextPageToken)
	}
	var stats *Stats
	if ios != nil || timing != nil {
		stats = &Stats{}
		if ios != nil {
			stats.ReadIOs = aws.Int64Value(ios.ReadIOs)
			stats.WriteIOs = aws.Int64Value(ios.WriteIOs)
		}
		if timing != nil {
			stats.ProcessingTime = time.Duration(aws.Int64Value(timing.ProcessingTimeMilliseconds)) * time.Millisecond
		}
	}
	return p, stats, nil
}

// translateAWSError converts an awserr.Error into a *ServerError the
// core's classifier understands.
func translateAWSError(err error, transactionID string) error {
	awsErr, ok := err.(awserr.Error)
	if !ok {
		return &ServerError{Code: CodeTransientTransport, Message: err.Error(), TransactionID: transactionID}
	}
	code := awsErr.Code()
	switch code {
	case "InvalidSessionException":
		return &ServerError{Code: CodeSessionInvalid, Message: awsErr.Message(), TransactionID: transactionID}
	case "OccConflictException":
		return &ServerError{Code: CodeOccConflict, Message: awsErr.Message(), TransactionID: transactionID}
	case "CapacityExceededException":
		return &ServerError{Code: CodeCapacityExceeded, Message: awsErr.Message(), TransactionID: transactionID}
	case "BadRequestException":
		return &ServerError{Code: CodeBadRequest, Message: awsErr.Message(), TransactionID: transactionID}
	case request.ErrCodeRequestError, request.ErrCodeSerialization, "RequestTimeout", "RequestTimeoutException":
		return &ServerError{Code: CodeTransientTransport, Message: awsErr.Message(), TransactionID: transactionID}
	default:
		if isServerFault(awsErr) {
			return &ServerError{Code: CodeServerRetryable, Message: awsErr.Message(), TransactionID: transactionID}
		}
		return &ServerError{Code: CodeBadRequest, Message: awsErr.Message(), TransactionID: transactionID}
	}
}

func isServerFault(err awserr.Error) bool {
	if reqErr, ok := err.(awserr.RequestFailure); ok {
		return reqErr.StatusCode() >= 500
	}
	return false
}

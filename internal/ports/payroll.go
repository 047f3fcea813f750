package ports

import (
	"context"
	"errors"
)

var (
	// ErrPayrollUnauthorized signals a 401: the token was rejected and one
	// re-authentication attempt is allowed before the batch fails.
	ErrPayrollUnauthorized = errors.New("payroll token rejected")

	// ErrPayrollCredentials signals rejected username/password. Not retried.
	ErrPayrollCredentials = errors.New("payroll credentials rejected")
)

// PayrollSession is the result of a successful authentication.
type PayrollSession struct {
	Token     string
	Principal string
	Org       string
}

// PayrollEntry is one ledger entry in the remote wire shape.
type PayrollEntry struct {
	ID           uint64 `json:"id"`
	EmployeeCode string `json:"employeeCode"`
	Time         string `json:"time"`
	Direction    string `json:"direction"`
	SyncID       string `json:"syncId"`
	Date         string `json:"date"`
}

// RejectedEntry is a record-level rejection inside an otherwise accepted batch.
type RejectedEntry struct {
	ID     uint64 `json:"id"`
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

// BatchResult is the per-record outcome of one accepted batch submission.
type BatchResult struct {
	AcceptedIDs []uint64        `json:"acceptedIds"`
	Rejected    []RejectedEntry `json:"rejected"`
}

// PayrollGateway speaks to the remote payroll API. SubmitBatch returns
// ErrPayrollUnauthorized on 401 and a plain error on any other batch-level
// failure (timeout, refused connection, 5xx).
type PayrollGateway interface {
	Authenticate(ctx context.Context, username string, password string) (PayrollSession, error)
	SubmitBatch(ctx context.Context, token string, entries []PayrollEntry) (BatchResult, error)
}

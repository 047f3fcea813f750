package ports

import (
	"context"
	"errors"
)

var (
	ErrEmployeeNotFound     = errors.New("employee not found")
	ErrTerminalNotFound     = errors.New("terminal not found")
	ErrTerminalAddrInUse    = errors.New("terminal address already in use")
	ErrRunNotFound          = errors.New("sync run not found")
	ErrAttendanceEventGone  = errors.New("attendance event not found")
	ErrEmployeeCodeRequired = errors.New("employee code is required")
)

// Run kinds and statuses as persisted in the audit trail.
const (
	RunKindPull   = "pull"
	RunKindPush   = "push"
	RunKindConfig = "config"
	RunKindOther  = "other"

	RunStatusStarted = "started"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

type Employee struct {
	EmployeeID uint64
	Code       string
	Name       string
	RemoteID   *string
	CreatedAt  string
	DeletedAt  *string
}

type AttendanceEventCreate struct {
	SyncID     string
	EmployeeID uint64
	Direction  string
	Date       string
	Time       string
	TerminalID *uint64
}

type AttendanceEvent struct {
	EventID    uint64
	SyncID     string
	EmployeeID uint64
	Direction  string
	Date       string
	Time       string
	TerminalID *uint64
	RemoteID   *string
	LastError  *string
	CreatedAt  string
}

// UnsyncedEvent joins the employee so Dispatch can build the wire shape
// without a per-record lookup.
type UnsyncedEvent struct {
	AttendanceEvent
	EmployeeCode string
	EmployeeName string
}

type TerminalCreate struct {
	Name string
	Host string
	Port int
}

type Terminal struct {
	TerminalID uint64
	Name       string
	Host       string
	Port       int
	Enabled    bool
	LastPullAt *string
	CreatedAt  string
	UpdatedAt  string
	DeletedAt  *string
}

type TerminalPatch struct {
	Name    *string
	Host    *string
	Port    *int
	Enabled *bool
}

type SyncRun struct {
	RunID       uint64
	Kind        string
	Status      string
	Processed   int
	Succeeded   int
	Failed      int
	Message     *string
	Metadata    *string
	StartedAt   string
	CompletedAt *string
}

type RunFinalize struct {
	Status    string
	Processed int
	Succeeded int
	Failed    int
	Message   string
	Metadata  string
}

type LedgerStats struct {
	Total   int64
	Synced  int64
	Pending int64
	Errored int64
}

type LedgerReadRepository interface {
	GetEmployeeByCode(ctx context.Context, code string) (Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
	SelectUnsyncedEvents(ctx context.Context, limit int) ([]UnsyncedEvent, error)
	EventStats(ctx context.Context) (LedgerStats, error)
	ListTerminals(ctx context.Context, enabledOnly bool) ([]Terminal, error)
	GetTerminal(ctx context.Context, terminalID uint64) (Terminal, error)
	ListRuns(ctx context.Context, kind string, limit int) ([]SyncRun, error)
}

// LedgerRepository is the durable attendance ledger. InsertEvent reports
// whether the row was admitted; a sync_id collision is a silent duplicate,
// enforced by the store's unique index rather than application checks.
type LedgerRepository interface {
	LedgerReadRepository
	UpsertEmployee(ctx context.Context, code string, name string) (Employee, error)
	InsertEvent(ctx context.Context, input AttendanceEventCreate) (bool, error)
	MarkSynced(ctx context.Context, eventID uint64, remoteID string) error
	MarkFailed(ctx context.Context, eventID uint64, reason string) error
	DeleteEventsOlderThan(ctx context.Context, date string) (int64, error)
	AddTerminal(ctx context.Context, input TerminalCreate) (Terminal, error)
	UpdateTerminal(ctx context.Context, terminalID uint64, patch TerminalPatch) error
	RemoveTerminal(ctx context.Context, terminalID uint64) error
	TouchTerminalPull(ctx context.Context, terminalID uint64) error
	CreateRun(ctx context.Context, kind string) (uint64, error)
	FinalizeRun(ctx context.Context, runID uint64, input RunFinalize) error
}

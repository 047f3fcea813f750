package ports

import (
	"context"
	"time"
)

// RosterEntry is one user record from a terminal's internal roster.
type RosterEntry struct {
	Code string
	Name string
}

// AttendanceLog is one raw punch as stored on the terminal.
type AttendanceLog struct {
	Code         string
	Timestamp    time.Time
	PunchSubtype int
}

// TerminalClient is the capability surface of one connected terminal.
// Any vendor implementing these operations is substitutable.
type TerminalClient interface {
	GetAttendanceLogs(ctx context.Context) ([]AttendanceLog, error)
	GetUsers(ctx context.Context) ([]RosterEntry, error)
	Close() error
}

// TerminalDialer opens connections to terminals. The returned client must
// always be closed, on every exit path.
type TerminalDialer interface {
	Dial(ctx context.Context, host string, port int, timeout time.Duration) (TerminalClient, error)
}

package ports

import (
	"context"
	"time"
)

// Credential is the single mutable session slot for the payroll API.
// Last writer wins; concurrent pushes racing to re-authenticate is accepted.
type Credential struct {
	Username  string
	Password  string
	Token     string
	Principal string
	IssuedAt  time.Time
}

// Settings is the persisted key-value slot behind credentials, watermarks
// and other singleton state that must survive restarts.
type Settings interface {
	Credential(ctx context.Context) (Credential, bool, error)
	SetCredential(ctx context.Context, cred Credential) error
	ClearToken(ctx context.Context) error
	ClearCredential(ctx context.Context) error

	LastPullAt(ctx context.Context) (time.Time, bool, error)
	SetLastPullAt(ctx context.Context, at time.Time) error
	LastPushAt(ctx context.Context) (time.Time, bool, error)
	SetLastPushAt(ctx context.Context, at time.Time) error
}

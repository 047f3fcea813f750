package sync

import (
	"context"
	"errors"
	"time"

	"biosync/internal/errs"
	"biosync/internal/ports"
)

// Status is an operator snapshot of the ledger and scheduler watermarks.
type Status struct {
	Stats      ports.LedgerStats
	Terminals  int
	LoggedIn   bool
	Principal  string
	LastPullAt *time.Time
	LastPushAt *time.Time
}

func (s *Service) Status(ctx context.Context) (Status, error) {
	if ctx == nil {
		return Status{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Status{}, errs.Wrap(err, "check context")
	}

	var status Status

	stats, err := s.repo.EventStats(ctx)
	if err != nil {
		return Status{}, errs.Wrap(err, "load event stats")
	}
	status.Stats = stats

	terminals, err := s.repo.ListTerminals(ctx, false)
	if err != nil {
		return Status{}, errs.Wrap(err, "list terminals")
	}
	status.Terminals = len(terminals)

	cred, found, err := s.settings.Credential(ctx)
	if err != nil {
		return Status{}, errs.Wrap(err, "load payroll credential")
	}
	if found {
		status.LoggedIn = cred.Token != ""
		status.Principal = cred.Principal
	}

	if at, ok, err := s.settings.LastPullAt(ctx); err == nil && ok {
		status.LastPullAt = &at
	}
	if at, ok, err := s.settings.LastPushAt(ctx); err == nil && ok {
		status.LastPushAt = &at
	}
	return status, nil
}

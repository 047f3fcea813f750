package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

// Login authenticates against payroll and stores the credential so
// scheduled pushes can run unattended.
func (s *Service) Login(ctx context.Context, username string, password string) (ports.PayrollSession, error) {
	if ctx == nil {
		return ports.PayrollSession{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ports.PayrollSession{}, errs.Wrap(err, "check context")
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return ports.PayrollSession{}, errors.New("username is required")
	}

	session, err := s.payroll.Authenticate(ctx, username, password)
	if err != nil {
		return ports.PayrollSession{}, errs.Wrap(err, "authenticate with payroll")
	}

	if err := s.settings.SetCredential(ctx, ports.Credential{
		Username:  username,
		Password:  password,
		Token:     session.Token,
		Principal: session.Principal,
		IssuedAt:  s.now(),
	}); err != nil {
		return ports.PayrollSession{}, errs.Wrap(err, "store payroll credential")
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "usecase.sync.auth")),
		"payroll login completed", slog.String("principal", session.Principal))
	return session, nil
}

// Logout drops the stored credential and session token.
func (s *Service) Logout(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	if err := s.settings.ClearCredential(ctx); err != nil {
		return errs.Wrap(err, "clear payroll credential")
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "usecase.sync.auth")), "payroll credential cleared")
	return nil
}

// Package sync holds the ingestion (terminal pull), dispatch (payroll push)
// and retention usecases, plus the scheduler that drives them.
package sync

import (
	"time"

	"biosync/internal/bootstrap/config"
	"biosync/internal/ports"
)

const (
	// Dispatch slices the pending backlog into fixed batches and caps one
	// cycle's selection so a huge backlog drains across cycles.
	pushBatchSize      = 50
	pushSelectionLimit = 10000

	// Progress is reported every N records so large pulls stay observable
	// without flooding subscribers.
	progressEvery = 50
)

type Service struct {
	cfg      config.Config
	repo     ports.LedgerRepository
	uow      ports.UnitOfWork
	settings ports.Settings
	dialer   ports.TerminalDialer
	payroll  ports.PayrollGateway
	hub      *ProgressHub

	now func() time.Time
}

// NewService wires the sync usecases with their ports.
func NewService(
	cfg config.Config,
	repo ports.LedgerRepository,
	uow ports.UnitOfWork,
	settings ports.Settings,
	dialer ports.TerminalDialer,
	payroll ports.PayrollGateway,
) *Service {
	return &Service{
		cfg:      cfg,
		repo:     repo,
		uow:      uow,
		settings: settings,
		dialer:   dialer,
		payroll:  payroll,
		hub:      NewProgressHub(),
		now:      time.Now,
	}
}

// Progress exposes the hub so transports can stream live run events.
func (s *Service) Progress() *ProgressHub {
	return s.hub
}

// Ledger exposes the read side of the repository for query transports.
func (s *Service) Ledger() ports.LedgerReadRepository {
	return s.repo
}

func (s *Service) terminalTimeout() time.Duration {
	timeout := time.Duration(s.cfg.Terminal.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout
}

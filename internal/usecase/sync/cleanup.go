package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/domain/ledger"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

type CleanupReport struct {
	RunID   uint64
	Cutoff  string
	Deleted int64
}

// Cleanup deletes ledger entries older than the retention horizon,
// regardless of their sync state. The deletion is recorded in the audit
// trail like any other run.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	if ctx == nil {
		return CleanupReport{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, errs.Wrap(err, "check context")
	}

	retention := s.cfg.Scheduler.RetentionDays
	if retention <= 0 {
		retention = 60
	}
	cutoff := s.now().AddDate(0, 0, -retention).Format(ledger.DateLayout)

	traceID := newTraceID()
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.sync.cleanup"),
		slog.String("trace_id", traceID),
	)

	runID, err := s.repo.CreateRun(ctx, ports.RunKindOther)
	if err != nil {
		return CleanupReport{}, errs.Wrap(err, "create cleanup run")
	}
	report := CleanupReport{RunID: runID, Cutoff: cutoff}

	deleted, err := s.repo.DeleteEventsOlderThan(ctx, cutoff)
	if err != nil {
		if finalizeErr := s.repo.FinalizeRun(ctx, runID, ports.RunFinalize{
			Status:  ports.RunStatusError,
			Message: err.Error(),
		}); finalizeErr != nil {
			logging.Warn(logCtx, "finalize cleanup run failed", slog.Any("err", errs.Loggable(finalizeErr)))
		}
		return report, errs.Wrap(err, "delete expired events")
	}
	report.Deleted = deleted

	message := fmt.Sprintf("deleted %d entries dated before %s", deleted, cutoff)
	if err := s.repo.FinalizeRun(ctx, runID, ports.RunFinalize{
		Status:    ports.RunStatusSuccess,
		Processed: int(deleted),
		Succeeded: int(deleted),
		Message:   message,
	}); err != nil {
		logging.Warn(logCtx, "finalize cleanup run failed", slog.Any("err", errs.Loggable(err)))
	}

	logging.Info(logCtx, "retention cleanup completed", slog.Int64("deleted", deleted), slog.String("cutoff", cutoff))
	s.hub.Publish(ProgressEvent{
		TraceID:   traceID,
		RunID:     runID,
		Kind:      ports.RunKindOther,
		Stage:     StageFinished,
		Processed: int(deleted),
		Message:   message,
	})
	return report, nil
}

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"biosync/internal/bootstrap/logging"
	"biosync/internal/domain/ledger"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

// ErrNotLoggedIn means there is no stored payroll credential to push with.
var ErrNotLoggedIn = errors.New("not logged in to payroll")

type PushReport struct {
	RunID           uint64
	Selected        int
	Processed       int
	Succeeded       int
	Failed          int
	Skipped         int
	Remaining       int
	Batches         int
	FailedBatches   int
	Reauthenticated bool
	Halted          bool
	HaltReason      string
}

// Push dispatches pending ledger entries to payroll in fixed batches.
// A record-level rejection fails only that record; a batch-level failure
// halts the run and leaves the remaining entries untouched for the next
// cycle. A rejected token earns one re-authentication per batch, then the
// same batch is retried once.
func (s *Service) Push(ctx context.Context) (PushReport, error) {
	if ctx == nil {
		return PushReport{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return PushReport{}, errs.Wrap(err, "check context")
	}

	traceID := newTraceID()
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.sync.push"),
		slog.String("trace_id", traceID),
	)

	runID, err := s.repo.CreateRun(ctx, ports.RunKindPush)
	if err != nil {
		return PushReport{}, errs.Wrap(err, "create push run")
	}
	report := PushReport{RunID: runID}

	token, err := s.ensureToken(logCtx)
	if err != nil {
		s.finalizePush(logCtx, traceID, &report, err.Error())
		return report, err
	}

	events, err := s.repo.SelectUnsyncedEvents(ctx, pushSelectionLimit)
	if err != nil {
		s.finalizePush(logCtx, traceID, &report, err.Error())
		return report, errs.Wrap(err, "select unsynced events")
	}
	report.Selected = len(events)

	s.hub.Publish(ProgressEvent{
		TraceID: traceID,
		RunID:   runID,
		Kind:    ports.RunKindPush,
		Stage:   StageStarted,
		Message: fmt.Sprintf("%d pending entries", len(events)),
	})

	if len(events) == 0 {
		s.finalizePush(logCtx, traceID, &report, "")
		s.touchPushWatermark(logCtx)
		return report, nil
	}

	// Entries without an employee code cannot be represented on the wire.
	// They stay pending and are reported as skipped.
	sendable := make([]ports.UnsyncedEvent, 0, len(events))
	for _, event := range events {
		if strings.TrimSpace(event.EmployeeCode) == "" {
			report.Skipped++
			continue
		}
		sendable = append(sendable, event)
	}
	report.Processed = report.Skipped

	totalBatches := (len(sendable) + pushBatchSize - 1) / pushBatchSize
	for offset := 0; offset < len(sendable); offset += pushBatchSize {
		end := offset + pushBatchSize
		if end > len(sendable) {
			end = len(sendable)
		}
		batch := sendable[offset:end]
		report.Batches++

		s.hub.Publish(ProgressEvent{
			TraceID:   traceID,
			RunID:     runID,
			Kind:      ports.RunKindPush,
			Stage:     StageProgress,
			Processed: report.Processed,
			Succeeded: report.Succeeded,
			Failed:    report.Failed,
			Message:   fmt.Sprintf("batch %d/%d (%d entries)", report.Batches, totalBatches, len(batch)),
		})

		result, submitErr := s.submitBatch(logCtx, &token, &report, batch)
		if submitErr != nil {
			// The failed batch is marked failed; batches never attempted
			// stay untouched for the next run.
			s.failBatch(logCtx, &report, batch, submitErr.Error())
			report.FailedBatches++
			report.Halted = true
			report.HaltReason = submitErr.Error()
			report.Remaining = len(sendable) - end
			logging.Error(logCtx, "batch submission failed, halting run",
				slog.Int("batch", report.Batches),
				slog.Int("remaining", report.Remaining),
				slog.Any("err", errs.Loggable(submitErr)),
			)
			break
		}

		s.applyBatchResult(logCtx, &report, batch, result)
	}

	s.finalizePush(logCtx, traceID, &report, "")
	s.touchPushWatermark(logCtx)
	return report, nil
}

// ensureToken returns a usable session token, authenticating with the
// stored username and password when no token is cached.
func (s *Service) ensureToken(ctx context.Context) (string, error) {
	cred, found, err := s.settings.Credential(ctx)
	if err != nil {
		return "", errs.Wrap(err, "load payroll credential")
	}
	if !found {
		return "", ErrNotLoggedIn
	}
	if cred.Token != "" {
		return cred.Token, nil
	}
	return s.reauthenticate(ctx)
}

// reauthenticate trades the stored username/password for a fresh token and
// persists the new session.
func (s *Service) reauthenticate(ctx context.Context) (string, error) {
	cred, found, err := s.settings.Credential(ctx)
	if err != nil {
		return "", errs.Wrap(err, "load payroll credential")
	}
	if !found || cred.Username == "" {
		return "", ErrNotLoggedIn
	}

	session, err := s.payroll.Authenticate(ctx, cred.Username, cred.Password)
	if err != nil {
		return "", errs.Wrap(err, "authenticate with payroll")
	}

	cred.Token = session.Token
	cred.Principal = session.Principal
	cred.IssuedAt = s.now()
	if err := s.settings.SetCredential(ctx, cred); err != nil {
		logging.Warn(ctx, "persist refreshed session failed", slog.Any("err", errs.Loggable(err)))
	}

	logging.Info(ctx, "payroll session refreshed", slog.String("principal", session.Principal))
	return session.Token, nil
}

// submitBatch sends one batch. A rejected token earns one re-authentication
// and one retry of this batch; a second rejection of the same batch is a
// batch-level failure. The budget is per batch, so a token expiring again
// later in a long run gets refreshed again.
func (s *Service) submitBatch(ctx context.Context, token *string, report *PushReport, batch []ports.UnsyncedEvent) (ports.BatchResult, error) {
	entries := make([]ports.PayrollEntry, 0, len(batch))
	for _, event := range batch {
		direction, err := ledger.ParseDirection(event.Direction)
		if err != nil {
			direction = ledger.DirectionOut
		}
		entries = append(entries, ports.PayrollEntry{
			ID:           event.EventID,
			EmployeeCode: event.EmployeeCode,
			Time:         event.Time,
			Direction:    direction.Wire(),
			SyncID:       event.SyncID,
			Date:         event.Date,
		})
	}

	result, err := s.payroll.SubmitBatch(ctx, *token, entries)
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, ports.ErrPayrollUnauthorized) {
		return ports.BatchResult{}, err
	}

	logging.Warn(ctx, "payroll token rejected, re-authenticating once")
	report.Reauthenticated = true
	if clearErr := s.settings.ClearToken(ctx); clearErr != nil {
		logging.Warn(ctx, "clear stale token failed", slog.Any("err", errs.Loggable(clearErr)))
	}

	fresh, authErr := s.reauthenticate(ctx)
	if authErr != nil {
		return ports.BatchResult{}, authErr
	}
	*token = fresh

	return s.payroll.SubmitBatch(ctx, fresh, entries)
}

// failBatch records the batch-level reason on every entry of the failed
// batch. The entries stay unsynced, so the next run resubmits them.
func (s *Service) failBatch(ctx context.Context, report *PushReport, batch []ports.UnsyncedEvent, reason string) {
	for _, event := range batch {
		report.Processed++
		report.Failed++
		if err := s.repo.MarkFailed(ctx, event.EventID, reason); err != nil {
			logging.Warn(ctx, "mark batch entry failed", slog.Uint64("event_id", event.EventID), slog.Any("err", errs.Loggable(err)))
		}
	}
}

func (s *Service) applyBatchResult(ctx context.Context, report *PushReport, batch []ports.UnsyncedEvent, result ports.BatchResult) {
	accepted := make(map[uint64]struct{}, len(result.AcceptedIDs))
	for _, id := range result.AcceptedIDs {
		accepted[id] = struct{}{}
	}
	rejected := make(map[uint64]string, len(result.Rejected))
	for _, rejection := range result.Rejected {
		reason := rejection.Reason
		if reason == "" {
			reason = fmt.Sprintf("rejected with code %d", rejection.Code)
		}
		rejected[rejection.ID] = reason
	}

	for _, event := range batch {
		report.Processed++

		if _, ok := accepted[event.EventID]; ok {
			if err := s.repo.MarkSynced(ctx, event.EventID, event.SyncID); err != nil {
				logging.Error(ctx, "mark event synced failed", slog.Uint64("event_id", event.EventID), slog.Any("err", errs.Loggable(err)))
				report.Failed++
				continue
			}
			report.Succeeded++
			continue
		}

		reason, ok := rejected[event.EventID]
		if !ok {
			reason = "no outcome reported by payroll"
		}
		if err := s.repo.MarkFailed(ctx, event.EventID, reason); err != nil {
			logging.Error(ctx, "mark event failed failed", slog.Uint64("event_id", event.EventID), slog.Any("err", errs.Loggable(err)))
		}
		report.Failed++
	}
}

// touchPushWatermark records the push attempt time. Unlike the pull
// watermark this moves even on failed runs, so operators can see when the
// dispatcher last tried.
func (s *Service) touchPushWatermark(ctx context.Context) {
	if err := s.settings.SetLastPushAt(ctx, s.now()); err != nil {
		logging.Warn(ctx, "persist push watermark failed", slog.Any("err", errs.Loggable(err)))
	}
}

func (s *Service) finalizePush(ctx context.Context, traceID string, report *PushReport, failure string) {
	status := ports.RunStatusSuccess
	stage := StageFinished
	message := fmt.Sprintf(
		"%d selected, %d succeeded, %d failed, %d skipped",
		report.Selected, report.Succeeded, report.Failed, report.Skipped,
	)
	if failure != "" {
		status = ports.RunStatusError
		stage = StageFailed
		message = failure
	} else if report.FailedBatches > 0 || report.Failed > 0 {
		status = ports.RunStatusError
		if report.Halted {
			message = fmt.Sprintf("%s, halted: %s", message, report.HaltReason)
		}
	}

	metadata, _ := json.Marshal(map[string]any{
		"batches":         report.Batches,
		"failedBatches":   report.FailedBatches,
		"remaining":       report.Remaining,
		"reauthenticated": report.Reauthenticated,
	})
	if err := s.repo.FinalizeRun(ctx, report.RunID, ports.RunFinalize{
		Status:    status,
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Message:   message,
		Metadata:  string(metadata),
	}); err != nil {
		logging.Warn(ctx, "finalize push run failed", slog.Any("err", errs.Loggable(err)))
	}

	s.hub.Publish(ProgressEvent{
		TraceID:   traceID,
		RunID:     report.RunID,
		Kind:      ports.RunKindPush,
		Stage:     stage,
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Message:   message,
	})
}

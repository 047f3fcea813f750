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

// TerminalPullResult is the per-terminal outcome of one ingestion run.
type TerminalPullResult struct {
	TerminalID uint64 `json:"terminalId"`
	Name       string `json:"name"`
	RosterSize int    `json:"rosterSize"`
	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Errors     int    `json:"errors"`
	Error      string `json:"error,omitempty"`
}

type PullReport struct {
	RunID           uint64
	Window          ledger.Window
	Terminals       []TerminalPullResult
	Processed       int
	Inserted        int
	Duplicates      int
	Skipped         int
	Errors          int
	FailedTerminals int
}

// Pull ingests attendance from every enabled terminal. The window bounds
// are optional YYYY-MM-DD dates; see ledger.ParseWindow for the defaults.
// A failing terminal is recorded and skipped, the fleet walk continues;
// the run counts as successful as long as one terminal synced. An empty
// fleet finalizes as a no-op success, not a failure.
func (s *Service) Pull(ctx context.Context, dateFrom string, dateTo string) (PullReport, error) {
	return s.pull(ctx, 0, dateFrom, dateTo)
}

// PullOne ingests attendance from a single terminal, addressed by id. The
// terminal's enabled flag is ignored so operators can backfill from a
// terminal that is excluded from fleet pulls.
func (s *Service) PullOne(ctx context.Context, terminalID uint64, dateFrom string, dateTo string) (PullReport, error) {
	if terminalID == 0 {
		return PullReport{}, errors.New("terminal id is required")
	}
	return s.pull(ctx, terminalID, dateFrom, dateTo)
}

func (s *Service) pull(ctx context.Context, terminalID uint64, dateFrom string, dateTo string) (PullReport, error) {
	if ctx == nil {
		return PullReport{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return PullReport{}, errs.Wrap(err, "check context")
	}

	window, err := ledger.ParseWindow(dateFrom, dateTo, s.now())
	if err != nil {
		return PullReport{}, errs.Wrap(err, "parse pull window")
	}

	traceID := newTraceID()
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.sync.pull"),
		slog.String("trace_id", traceID),
	)

	runID, err := s.repo.CreateRun(ctx, ports.RunKindPull)
	if err != nil {
		return PullReport{}, errs.Wrap(err, "create pull run")
	}

	report := PullReport{RunID: runID, Window: window}
	s.hub.Publish(ProgressEvent{
		TraceID: traceID,
		RunID:   runID,
		Kind:    ports.RunKindPull,
		Stage:   StageStarted,
		Message: fmt.Sprintf("window %s .. %s", window.From.Format(ledger.DateLayout), window.To.Format(ledger.DateLayout)),
	})

	var terminals []ports.Terminal
	if terminalID != 0 {
		terminal, getErr := s.repo.GetTerminal(ctx, terminalID)
		if getErr != nil {
			s.finalizePull(logCtx, traceID, &report, getErr.Error())
			return report, errs.Wrap(getErr, "resolve terminal")
		}
		terminals = []ports.Terminal{terminal}
	} else {
		terminals, err = s.repo.ListTerminals(ctx, true)
		if err != nil {
			s.finalizePull(logCtx, traceID, &report, err.Error())
			return report, errs.Wrap(err, "list terminals")
		}
	}
	if len(terminals) == 0 {
		// A fleet with nothing registered is a no-op, not a failure.
		logging.Warn(logCtx, "no enabled terminals to pull from")
		s.finalizePull(logCtx, traceID, &report, "")
		return report, nil
	}

	for _, terminal := range terminals {
		result := s.pullTerminal(logCtx, traceID, runID, terminal, window)
		report.Terminals = append(report.Terminals, result)
		report.Processed += result.Processed
		report.Inserted += result.Inserted
		report.Duplicates += result.Duplicates
		report.Skipped += result.Skipped
		report.Errors += result.Errors
		if result.Error != "" {
			report.FailedTerminals++
		}
	}

	s.finalizePull(logCtx, traceID, &report, "")

	if report.FailedTerminals == 0 {
		if err := s.settings.SetLastPullAt(ctx, s.now()); err != nil {
			logging.Warn(logCtx, "persist pull watermark failed", slog.Any("err", errs.Loggable(err)))
		}
	}
	return report, nil
}

func (s *Service) pullTerminal(ctx context.Context, traceID string, runID uint64, terminal ports.Terminal, window ledger.Window) TerminalPullResult {
	result := TerminalPullResult{TerminalID: terminal.TerminalID, Name: terminal.Name}
	logCtx := logging.WithAttrs(ctx,
		slog.Uint64("terminal_id", terminal.TerminalID),
		slog.String("terminal", terminal.Name),
	)

	s.hub.Publish(ProgressEvent{
		TraceID:  traceID,
		RunID:    runID,
		Kind:     ports.RunKindPull,
		Stage:    StageProgress,
		Terminal: terminal.Name,
		Message:  "connecting",
	})
	client, err := s.dialer.Dial(ctx, terminal.Host, terminal.Port, s.terminalTimeout())
	if err != nil {
		logging.Error(logCtx, "terminal unreachable", slog.Any("err", errs.Loggable(err)))
		result.Error = err.Error()
		return result
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logging.Warn(logCtx, "close terminal session failed", slog.Any("err", errs.Loggable(closeErr)))
		}
	}()

	// Roster first, so every punch can resolve to a ledger employee.
	roster, err := client.GetUsers(ctx)
	if err != nil {
		logging.Error(logCtx, "fetch roster failed", slog.Any("err", errs.Loggable(err)))
		result.Error = err.Error()
		return result
	}
	result.RosterSize = len(roster)

	employees := make(map[string]ports.Employee, len(roster))
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		for _, entry := range roster {
			code := strings.TrimSpace(entry.Code)
			if code == "" {
				continue
			}
			employee, upsertErr := s.repo.UpsertEmployee(txCtx, code, entry.Name)
			if upsertErr != nil {
				return errs.Wrapf(upsertErr, "upsert employee %q", code)
			}
			employees[code] = employee
		}
		return nil
	}); err != nil {
		logging.Error(logCtx, "sync roster failed", slog.Any("err", errs.Loggable(err)))
		result.Error = err.Error()
		return result
	}

	s.hub.Publish(ProgressEvent{
		TraceID:  traceID,
		RunID:    runID,
		Kind:     ports.RunKindPull,
		Stage:    StageProgress,
		Terminal: terminal.Name,
		Message:  "fetching attendance logs",
	})
	logs, err := client.GetAttendanceLogs(ctx)
	if err != nil {
		logging.Error(logCtx, "fetch attendance logs failed", slog.Any("err", errs.Loggable(err)))
		result.Error = err.Error()
		return result
	}

	for _, punch := range logs {
		if !window.Contains(punch.Timestamp) {
			continue
		}

		code := strings.TrimSpace(punch.Code)
		if code == "" {
			result.Skipped++
			continue
		}
		result.Processed++

		employee, known := employees[code]
		if !known {
			// The ledger may know the code from an earlier roster sync,
			// on this terminal or another one.
			stored, lookupErr := s.repo.GetEmployeeByCode(ctx, code)
			if errors.Is(lookupErr, ports.ErrEmployeeNotFound) {
				// Nobody has ever listed this code; a record-level error,
				// not a terminal failure.
				logging.Warn(logCtx, "punch from unknown employee", slog.String("code", code))
				result.Errors++
				continue
			}
			if lookupErr != nil {
				logging.Error(logCtx, "resolve punch employee failed", slog.String("code", code), slog.Any("err", errs.Loggable(lookupErr)))
				result.Error = lookupErr.Error()
				return result
			}
			employee = stored
			employees[code] = stored
		}

		syncID, idErr := ledger.SyncID(terminal.TerminalID, code, punch.Timestamp)
		if idErr != nil {
			result.Skipped++
			result.Processed--
			continue
		}

		terminalID := terminal.TerminalID
		inserted, insertErr := s.repo.InsertEvent(ctx, ports.AttendanceEventCreate{
			SyncID:     syncID,
			EmployeeID: employee.EmployeeID,
			Direction:  string(ledger.ClassifyPunch(punch.PunchSubtype)),
			Date:       punch.Timestamp.Format(ledger.DateLayout),
			Time:       punch.Timestamp.Format("15:04:05"),
			TerminalID: &terminalID,
		})
		if insertErr != nil {
			logging.Error(logCtx, "insert attendance event failed", slog.String("sync_id", syncID), slog.Any("err", errs.Loggable(insertErr)))
			result.Error = insertErr.Error()
			return result
		}
		if inserted {
			result.Inserted++
		} else {
			result.Duplicates++
		}

		if result.Processed%progressEvery == 0 {
			s.hub.Publish(ProgressEvent{
				TraceID:   traceID,
				RunID:     runID,
				Kind:      ports.RunKindPull,
				Stage:     StageProgress,
				Terminal:  terminal.Name,
				Processed: result.Processed,
				Succeeded: result.Inserted,
				Failed:    result.Errors,
			})
		}
	}

	if err := s.repo.TouchTerminalPull(ctx, terminal.TerminalID); err != nil {
		logging.Warn(logCtx, "touch terminal watermark failed", slog.Any("err", errs.Loggable(err)))
	}

	logging.Info(logCtx, "terminal pull completed",
		slog.Int("processed", result.Processed),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("errors", result.Errors),
	)
	return result
}

func (s *Service) finalizePull(ctx context.Context, traceID string, report *PullReport, failure string) {
	synced := len(report.Terminals) - report.FailedTerminals

	status := ports.RunStatusSuccess
	stage := StageFinished
	message := fmt.Sprintf(
		"%d terminals, %d processed, %d inserted, %d duplicates",
		len(report.Terminals), report.Processed, report.Inserted, report.Duplicates,
	)
	switch {
	case failure != "":
		status = ports.RunStatusError
		stage = StageFailed
		message = failure
	case len(report.Terminals) > 0 && synced == 0:
		// Success means at least one terminal made it through.
		status = ports.RunStatusError
		stage = StageFailed
		message = fmt.Sprintf("all %d terminals failed", report.FailedTerminals)
	case report.FailedTerminals > 0:
		message = fmt.Sprintf("%s, %d terminals failed", message, report.FailedTerminals)
	}
	if report.Errors > 0 {
		message = fmt.Sprintf("%s, %d record errors", message, report.Errors)
	}

	metadata, _ := json.Marshal(report.Terminals)
	if err := s.repo.FinalizeRun(ctx, report.RunID, ports.RunFinalize{
		Status:    status,
		Processed: report.Processed,
		Succeeded: report.Inserted,
		Failed:    report.Errors + report.FailedTerminals,
		Message:   message,
		Metadata:  string(metadata),
	}); err != nil {
		logging.Warn(ctx, "finalize pull run failed", slog.Any("err", errs.Loggable(err)))
	}

	s.hub.Publish(ProgressEvent{
		TraceID:   traceID,
		RunID:     report.RunID,
		Kind:      ports.RunKindPull,
		Stage:     stage,
		Processed: report.Processed,
		Succeeded: report.Inserted,
		Failed:    report.Errors + report.FailedTerminals,
		Message:   message,
	})
}

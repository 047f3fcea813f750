package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"biosync/internal/bootstrap/config"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
)

// Scheduler drives pull, push and cleanup on their configured cadence.
// It ticks once a second and compares watermarks instead of arming long
// timers, so a Reschedule takes effect on the next tick.
type Scheduler struct {
	svc *Service

	mu  gosync.Mutex
	cfg config.SchedulerConfig

	cancel context.CancelFunc
	done   chan struct{}

	lastPull       time.Time
	lastPush       time.Time
	lastCleanupDay string

	pullBusy    atomic.Bool
	pushBusy    atomic.Bool
	cleanupBusy atomic.Bool
}

func NewScheduler(cfg config.Config, svc *Service) *Scheduler {
	return &Scheduler{
		svc: svc,
		cfg: cfg.Scheduler,
	}
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op with a warning.
func (sch *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	sch.mu.Lock()
	defer sch.mu.Unlock()

	if sch.cancel != nil {
		logging.Warn(ctx, "scheduler already running")
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	sch.cancel = cancel
	sch.done = make(chan struct{})

	// Intervals count from startup, not from the epoch; the first
	// scheduled pull happens one full interval after Start.
	now := sch.svc.now()
	sch.lastPull = now
	sch.lastPush = now
	sch.lastCleanupDay = ""

	logCtx := logging.WithAttrs(loopCtx, slog.String("component", "usecase.sync.scheduler"))
	logging.Info(logCtx, "scheduler started",
		slog.Int("pull_interval_minutes", sch.cfg.PullIntervalMinutes),
		slog.Int("push_interval_minutes", sch.cfg.PushIntervalMinutes),
		slog.String("cleanup_at", sch.cfg.CleanupAt),
	)

	go sch.loop(logCtx, sch.done)
	return nil
}

// Stop cancels the loop and waits for it to drain, bounded by ctx.
func (sch *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	sch.mu.Lock()
	cancel := sch.cancel
	done := sch.done
	sch.cancel = nil
	sch.done = nil
	sch.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "wait for scheduler shutdown")
	}
}

// Reschedule swaps the cadence. Takes effect on the next tick; in-flight
// runs are never interrupted.
func (sch *Scheduler) Reschedule(cfg config.SchedulerConfig) {
	sch.mu.Lock()
	sch.cfg = cfg
	sch.mu.Unlock()
}

func (sch *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			sch.evaluate(ctx)
		}
	}
}

func (sch *Scheduler) evaluate(ctx context.Context) {
	sch.mu.Lock()
	cfg := sch.cfg
	lastPull := sch.lastPull
	lastPush := sch.lastPush
	lastCleanupDay := sch.lastCleanupDay
	sch.mu.Unlock()

	now := sch.svc.now()

	if cfg.PullIntervalMinutes > 0 {
		due := lastPull.Add(time.Duration(cfg.PullIntervalMinutes) * time.Minute)
		if !now.Before(due) && sch.pullBusy.CompareAndSwap(false, true) {
			sch.mu.Lock()
			sch.lastPull = now
			sch.mu.Unlock()
			go sch.runPull(ctx)
		}
	}

	if cfg.PushIntervalMinutes > 0 {
		due := lastPush.Add(time.Duration(cfg.PushIntervalMinutes) * time.Minute)
		if !now.Before(due) && sch.pushBusy.CompareAndSwap(false, true) {
			sch.mu.Lock()
			sch.lastPush = now
			sch.mu.Unlock()
			go sch.runPush(ctx)
		}
	}

	if at := strings.TrimSpace(cfg.CleanupAt); at != "" {
		day := now.Format("2006-01-02")
		if now.Format("15:04") == at && day != lastCleanupDay && sch.cleanupBusy.CompareAndSwap(false, true) {
			sch.mu.Lock()
			sch.lastCleanupDay = day
			sch.mu.Unlock()
			go sch.runCleanup(ctx)
		}
	}
}

// TriggerPullNow starts a fleet pull immediately unless one is in flight.
func (sch *Scheduler) TriggerPullNow(ctx context.Context) bool {
	return sch.TriggerPullWindow(ctx, 0, "", "")
}

// TriggerPullWindow starts a pull for an explicit date window, optionally
// scoped to one terminal, unless a pull is in flight. Zero values fall back
// to the fleet and the default window.
func (sch *Scheduler) TriggerPullWindow(ctx context.Context, terminalID uint64, dateFrom string, dateTo string) bool {
	if !sch.pullBusy.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer sch.pullBusy.Store(false)

		var err error
		if terminalID != 0 {
			_, err = sch.svc.PullOne(ctx, terminalID, dateFrom, dateTo)
		} else {
			_, err = sch.svc.Pull(ctx, dateFrom, dateTo)
		}
		if err != nil {
			logging.Error(ctx, "triggered pull failed", slog.Any("err", errs.Loggable(err)))
		}
	}()
	return true
}

// TriggerPushNow starts a push immediately unless one is in flight.
func (sch *Scheduler) TriggerPushNow(ctx context.Context) bool {
	if !sch.pushBusy.CompareAndSwap(false, true) {
		return false
	}
	go sch.runPush(ctx)
	return true
}

// TriggerCleanupNow starts a cleanup immediately unless one is in flight.
func (sch *Scheduler) TriggerCleanupNow(ctx context.Context) bool {
	if !sch.cleanupBusy.CompareAndSwap(false, true) {
		return false
	}
	go sch.runCleanup(ctx)
	return true
}

func (sch *Scheduler) runPull(ctx context.Context) {
	defer sch.pullBusy.Store(false)

	if _, err := sch.svc.Pull(ctx, "", ""); err != nil {
		logging.Error(ctx, "scheduled pull failed", slog.Any("err", errs.Loggable(err)))
	}
}

func (sch *Scheduler) runPush(ctx context.Context) {
	defer sch.pushBusy.Store(false)

	if _, err := sch.svc.Push(ctx); err != nil {
		logging.Error(ctx, "scheduled push failed", slog.Any("err", errs.Loggable(err)))
	}
}

func (sch *Scheduler) runCleanup(ctx context.Context) {
	defer sch.cleanupBusy.Store(false)

	if _, err := sch.svc.Cleanup(ctx); err != nil {
		logging.Error(ctx, "scheduled cleanup failed", slog.Any("err", errs.Loggable(err)))
	}
}

package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"biosync/internal/bootstrap/config"
	"biosync/internal/bootstrap/logging"
	"biosync/internal/errs"
	"biosync/internal/ports"
)

// ConfigWatcher reloads the scheduler cadence when the config file changes
// on disk, so cadence edits do not require a restart.
type ConfigWatcher struct {
	path  string
	sched *Scheduler
	svc   *Service
}

func NewConfigWatcher(path string, sched *Scheduler, svc *Service) *ConfigWatcher {
	return &ConfigWatcher{
		path:  path,
		sched: sched,
		svc:   svc,
	}
}

// Run blocks until ctx is cancelled. Editors replace files instead of
// writing in place, so the watch is on the directory and events are
// filtered by name and debounced.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if w.path == "" {
		return errors.New("config path is required")
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "usecase.sync.watch"),
		slog.String("config_file", w.path),
	)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errs.Wrap(err, "create fs watcher")
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return errs.Wrapf(err, "watch config directory %q", dir)
	}
	logging.Info(logCtx, "watching config for cadence changes")

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	target := filepath.Clean(w.path)
	for {
		var fired <-chan time.Time
		if debounce != nil {
			fired = debounce.C
		}

		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(500 * time.Millisecond)
			} else {
				debounce.Reset(500 * time.Millisecond)
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Warn(logCtx, "config watcher error", slog.Any("err", errs.Loggable(watchErr)))
		case <-fired:
			debounce = nil
			w.reload(logCtx)
		}
	}
}

func (w *ConfigWatcher) reload(ctx context.Context) {
	cfg, err := config.Load(ctx, w.path)
	if err != nil {
		logging.Error(ctx, "config reload failed, keeping previous cadence", slog.Any("err", errs.Loggable(err)))
		return
	}

	w.sched.Reschedule(cfg.Scheduler)
	logging.Info(ctx, "scheduler cadence reloaded",
		slog.Int("pull_interval_minutes", cfg.Scheduler.PullIntervalMinutes),
		slog.Int("push_interval_minutes", cfg.Scheduler.PushIntervalMinutes),
		slog.String("cleanup_at", cfg.Scheduler.CleanupAt),
	)

	w.recordReload(ctx, cfg.Scheduler)
}

// recordReload leaves a config entry in the run audit trail.
func (w *ConfigWatcher) recordReload(ctx context.Context, cfg config.SchedulerConfig) {
	runID, err := w.svc.repo.CreateRun(ctx, ports.RunKindConfig)
	if err != nil {
		logging.Warn(ctx, "record config reload failed", slog.Any("err", errs.Loggable(err)))
		return
	}
	metadata, _ := json.Marshal(map[string]any{
		"pullIntervalMinutes": cfg.PullIntervalMinutes,
		"pushIntervalMinutes": cfg.PushIntervalMinutes,
		"cleanupAt":           cfg.CleanupAt,
	})
	if err := w.svc.repo.FinalizeRun(ctx, runID, ports.RunFinalize{
		Status:   ports.RunStatusSuccess,
		Message:  "scheduler cadence reloaded from config",
		Metadata: string(metadata),
	}); err != nil {
		logging.Warn(ctx, "finalize config run failed", slog.Any("err", errs.Loggable(err)))
	}
}

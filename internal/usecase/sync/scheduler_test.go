package sync

import (
	"context"
	"testing"
	"time"

	"biosync/internal/bootstrap/config"
	"biosync/internal/ports"
)

func TestSchedulerStartStopIdempotent(t *testing.T) {
	svc, _, _, _ := setupService(t)
	sched := NewScheduler(svc.cfg, svc)
	ctx := context.Background()

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second start is a warning, not an error.
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start() twice error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := sched.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() twice error = %v", err)
	}
}

func TestSchedulerTriggerPullRunsImmediately(t *testing.T) {
	svc, _, _, _ := setupService(t)
	sched := NewScheduler(svc.cfg, svc)
	ctx := context.Background()

	if !sched.TriggerPullNow(ctx) {
		t.Fatalf("TriggerPullNow() should accept when idle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		runs, err := svc.repo.ListRuns(ctx, ports.RunKindPull, 1)
		if err != nil {
			t.Fatalf("ListRuns() error = %v", err)
		}
		if len(runs) == 1 && runs[0].Status != ports.RunStatusStarted {
			// No terminals registered: the run completes as a no-op.
			if runs[0].Status != ports.RunStatusSuccess {
				t.Fatalf("triggered run = %+v", runs[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("triggered pull never completed, runs=%v", runs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerRescheduleSwapsCadence(t *testing.T) {
	svc, _, _, _ := setupService(t)
	sched := NewScheduler(svc.cfg, svc)

	sched.Reschedule(config.SchedulerConfig{
		PullIntervalMinutes: 5,
		PushIntervalMinutes: 1,
		CleanupAt:           "03:30",
		RetentionDays:       30,
	})

	sched.mu.Lock()
	got := sched.cfg
	sched.mu.Unlock()

	if got.PullIntervalMinutes != 5 || got.PushIntervalMinutes != 1 || got.CleanupAt != "03:30" {
		t.Fatalf("cfg after reschedule = %+v", got)
	}
}

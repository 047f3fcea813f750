package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"biosync/internal/infrastructure/persistence/sqlite/model"
	"biosync/internal/ports"
)

func setupRepo(t *testing.T) (*LedgerRepository, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "ledger.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&model.Employee{},
		&model.AttendanceEvent{},
		&model.Terminal{},
		&model.SyncRun{},
		&model.SettingKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	if err := db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_terminals_live_addr ON terminals(host, port) WHERE deleted_at IS NULL",
	).Error; err != nil {
		t.Fatalf("create terminal index: %v", err)
	}

	return NewLedgerRepository(db), db
}

func mustEmployee(t *testing.T, repo *LedgerRepository, code string, name string) ports.Employee {
	t.Helper()

	employee, err := repo.UpsertEmployee(context.Background(), code, name)
	if err != nil {
		t.Fatalf("UpsertEmployee(%q) error = %v", code, err)
	}
	return employee
}

func mustInsertEvent(t *testing.T, repo *LedgerRepository, syncID string, employeeID uint64, date string) bool {
	t.Helper()

	inserted, err := repo.InsertEvent(context.Background(), ports.AttendanceEventCreate{
		SyncID:     syncID,
		EmployeeID: employeeID,
		Direction:  "in",
		Date:       date,
		Time:       "08:30:00",
	})
	if err != nil {
		t.Fatalf("InsertEvent(%q) error = %v", syncID, err)
	}
	return inserted
}

func TestUpsertEmployeeUpdatesNameKeepsID(t *testing.T) {
	repo, _ := setupRepo(t)

	first := mustEmployee(t, repo, "E001", "Ada")
	second := mustEmployee(t, repo, "E001", "Ada Lovelace")

	if first.EmployeeID != second.EmployeeID {
		t.Fatalf("employee id changed on upsert: %d vs %d", first.EmployeeID, second.EmployeeID)
	}
	if second.Name != "Ada Lovelace" {
		t.Fatalf("employee name = %q", second.Name)
	}
}

func TestInsertEventDeduplicatesBySyncID(t *testing.T) {
	repo, _ := setupRepo(t)
	employee := mustEmployee(t, repo, "E001", "Ada")

	if !mustInsertEvent(t, repo, "ZK_1_E001_20260314083000", employee.EmployeeID, "2026-03-14") {
		t.Fatalf("first insert should be admitted")
	}
	if mustInsertEvent(t, repo, "ZK_1_E001_20260314083000", employee.EmployeeID, "2026-03-14") {
		t.Fatalf("second insert with same sync id should be a silent duplicate")
	}

	stats, err := repo.EventStats(context.Background())
	if err != nil {
		t.Fatalf("EventStats() error = %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("stats = %+v, want 1 total, 1 pending", stats)
	}
}

func TestMarkSyncedClearsError(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	employee := mustEmployee(t, repo, "E001", "Ada")
	mustInsertEvent(t, repo, "ZK_1_E001_20260314083000", employee.EmployeeID, "2026-03-14")

	events, err := repo.SelectUnsyncedEvents(ctx, 0)
	if err != nil {
		t.Fatalf("SelectUnsyncedEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("unsynced events = %d, want 1", len(events))
	}
	eventID := events[0].EventID

	if err := repo.MarkFailed(ctx, eventID, "remote rejected"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := repo.MarkSynced(ctx, eventID, events[0].SyncID); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}

	remaining, err := repo.SelectUnsyncedEvents(ctx, 0)
	if err != nil {
		t.Fatalf("SelectUnsyncedEvents() error = %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("synced event still selected: %+v", remaining)
	}

	stats, err := repo.EventStats(ctx)
	if err != nil {
		t.Fatalf("EventStats() error = %v", err)
	}
	if stats.Synced != 1 || stats.Errored != 0 {
		t.Fatalf("stats = %+v, want 1 synced, 0 errored", stats)
	}
}

func TestMarkSyncedMissingEvent(t *testing.T) {
	repo, _ := setupRepo(t)

	if err := repo.MarkSynced(context.Background(), 999, "ZK_x"); !errors.Is(err, ports.ErrAttendanceEventGone) {
		t.Fatalf("MarkSynced() error = %v, want ErrAttendanceEventGone", err)
	}
}

func TestSelectUnsyncedEventsJoinsEmployeeAndHonorsLimit(t *testing.T) {
	repo, _ := setupRepo(t)
	employee := mustEmployee(t, repo, "E007", "Grace")

	mustInsertEvent(t, repo, "ZK_1_E007_20260314080000", employee.EmployeeID, "2026-03-14")
	mustInsertEvent(t, repo, "ZK_1_E007_20260314170000", employee.EmployeeID, "2026-03-14")
	mustInsertEvent(t, repo, "ZK_1_E007_20260315080000", employee.EmployeeID, "2026-03-15")

	events, err := repo.SelectUnsyncedEvents(context.Background(), 2)
	if err != nil {
		t.Fatalf("SelectUnsyncedEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("unsynced events = %d, want 2", len(events))
	}
	for _, event := range events {
		if event.EmployeeCode != "E007" || event.EmployeeName != "Grace" {
			t.Fatalf("joined employee = %q/%q", event.EmployeeCode, event.EmployeeName)
		}
	}
}

func TestDeleteEventsOlderThan(t *testing.T) {
	repo, _ := setupRepo(t)
	employee := mustEmployee(t, repo, "E001", "Ada")

	mustInsertEvent(t, repo, "old-1", employee.EmployeeID, "2026-01-01")
	mustInsertEvent(t, repo, "old-2", employee.EmployeeID, "2026-01-15")
	mustInsertEvent(t, repo, "fresh", employee.EmployeeID, "2026-03-14")

	deleted, err := repo.DeleteEventsOlderThan(context.Background(), "2026-02-01")
	if err != nil {
		t.Fatalf("DeleteEventsOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}

	stats, err := repo.EventStats(context.Background())
	if err != nil {
		t.Fatalf("EventStats() error = %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats total = %d, want 1", stats.Total)
	}
}

func TestAddTerminalRejectsDuplicateAddress(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	first, err := repo.AddTerminal(ctx, ports.TerminalCreate{Name: "lobby", Host: "10.0.0.5", Port: 4370})
	if err != nil {
		t.Fatalf("AddTerminal() error = %v", err)
	}

	if _, err := repo.AddTerminal(ctx, ports.TerminalCreate{Name: "copy", Host: "10.0.0.5", Port: 4370}); !errors.Is(err, ports.ErrTerminalAddrInUse) {
		t.Fatalf("AddTerminal(duplicate) error = %v, want ErrTerminalAddrInUse", err)
	}

	// A removed terminal's address is reusable.
	if err := repo.RemoveTerminal(ctx, first.TerminalID); err != nil {
		t.Fatalf("RemoveTerminal() error = %v", err)
	}
	if _, err := repo.AddTerminal(ctx, ports.TerminalCreate{Name: "again", Host: "10.0.0.5", Port: 4370}); err != nil {
		t.Fatalf("AddTerminal(after remove) error = %v", err)
	}
}

func TestListTerminalsEnabledOnly(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	terminal, err := repo.AddTerminal(ctx, ports.TerminalCreate{Name: "lobby", Host: "10.0.0.5", Port: 4370})
	if err != nil {
		t.Fatalf("AddTerminal() error = %v", err)
	}
	if _, err := repo.AddTerminal(ctx, ports.TerminalCreate{Name: "gate", Host: "10.0.0.6", Port: 4370}); err != nil {
		t.Fatalf("AddTerminal() error = %v", err)
	}

	disabled := false
	if err := repo.UpdateTerminal(ctx, terminal.TerminalID, ports.TerminalPatch{Enabled: &disabled}); err != nil {
		t.Fatalf("UpdateTerminal() error = %v", err)
	}

	enabled, err := repo.ListTerminals(ctx, true)
	if err != nil {
		t.Fatalf("ListTerminals(enabled) error = %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "gate" {
		t.Fatalf("enabled terminals = %+v", enabled)
	}

	all, err := repo.ListTerminals(ctx, false)
	if err != nil {
		t.Fatalf("ListTerminals(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all terminals = %d, want 2", len(all))
	}
}

func TestRunLifecycle(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	runID, err := repo.CreateRun(ctx, ports.RunKindPull)
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	if err := repo.FinalizeRun(ctx, runID, ports.RunFinalize{
		Status:    ports.RunStatusSuccess,
		Processed: 10,
		Succeeded: 9,
		Failed:    1,
		Message:   "done",
	}); err != nil {
		t.Fatalf("FinalizeRun() error = %v", err)
	}

	runs, err := repo.ListRuns(ctx, ports.RunKindPull, 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Status != ports.RunStatusSuccess || run.Processed != 10 || run.Succeeded != 9 || run.Failed != 1 {
		t.Fatalf("run = %+v", run)
	}
	if run.CompletedAt == nil {
		t.Fatalf("run should carry a completion time")
	}

	if err := repo.FinalizeRun(ctx, 999, ports.RunFinalize{Status: ports.RunStatusError}); !errors.Is(err, ports.ErrRunNotFound) {
		t.Fatalf("FinalizeRun(missing) error = %v, want ErrRunNotFound", err)
	}
}

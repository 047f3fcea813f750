package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"biosync/internal/errs"
	"biosync/internal/infrastructure/persistence/sqlite/model"
	"biosync/internal/ports"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ==== employees ====

func (r *LedgerRepository) UpsertEmployee(ctx context.Context, code string, name string) (ports.Employee, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Employee{}, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return ports.Employee{}, ports.ErrEmployeeCodeRequired
	}
	if strings.TrimSpace(name) == "" {
		name = "Employee " + code
	}

	row := model.Employee{
		Code:      code,
		Name:      name,
		CreatedAt: nowStamp(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name": name,
		}),
	}).Create(&row).Error; err != nil {
		return ports.Employee{}, errs.Wrap(err, "upsert employee")
	}

	return r.GetEmployeeByCode(ctx, code)
}

func (r *LedgerRepository) GetEmployeeByCode(ctx context.Context, code string) (ports.Employee, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Employee{}, err
	}

	var row model.Employee
	if err := db.Where("code = ?", strings.TrimSpace(code)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Employee{}, ports.ErrEmployeeNotFound
		}
		return ports.Employee{}, errs.Wrap(err, "query employee by code")
	}
	return mapEmployee(row), nil
}

func (r *LedgerRepository) ListEmployees(ctx context.Context) ([]ports.Employee, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Employee
	if err := db.Where("deleted_at IS NULL").Order("name asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query employees")
	}

	items := make([]ports.Employee, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapEmployee(row))
	}
	return items, nil
}

// ==== attendance events ====

// InsertEvent admits one punch into the ledger. A sync_id collision is not
// an error: the unique index absorbs it and the row count tells the caller
// the entry was a duplicate.
func (r *LedgerRepository) InsertEvent(ctx context.Context, input ports.AttendanceEventCreate) (bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(input.SyncID) == "" {
		return false, errors.New("sync id is required")
	}

	row := model.AttendanceEvent{
		SyncID:     input.SyncID,
		EmployeeID: input.EmployeeID,
		Direction:  input.Direction,
		Date:       input.Date,
		Time:       input.Time,
		TerminalID: input.TerminalID,
		CreatedAt:  nowStamp(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sync_id"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, errs.Wrap(result.Error, "insert attendance event")
	}
	return result.RowsAffected > 0, nil
}

type unsyncedRow struct {
	model.AttendanceEvent
	EmployeeCode string `gorm:"column:employee_code"`
	EmployeeName string `gorm:"column:employee_name"`
}

func (r *LedgerRepository) SelectUnsyncedEvents(ctx context.Context, limit int) ([]ports.UnsyncedEvent, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.AttendanceEvent{}).
		Select("attendance_events.*, employees.code AS employee_code, employees.name AS employee_name").
		Joins("JOIN employees ON employees.employee_id = attendance_events.employee_id").
		Where("attendance_events.remote_id IS NULL").
		Order("attendance_events.created_at asc, attendance_events.event_id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []unsyncedRow
	if err := query.Scan(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query unsynced events")
	}

	items := make([]ports.UnsyncedEvent, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.UnsyncedEvent{
			AttendanceEvent: mapEvent(row.AttendanceEvent),
			EmployeeCode:    row.EmployeeCode,
			EmployeeName:    row.EmployeeName,
		})
	}
	return items, nil
}

func (r *LedgerRepository) MarkSynced(ctx context.Context, eventID uint64, remoteID string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.AttendanceEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"remote_id":  remoteID,
			"last_error": nil,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "mark event synced")
	}
	if result.RowsAffected == 0 {
		return ports.ErrAttendanceEventGone
	}
	return nil
}

func (r *LedgerRepository) MarkFailed(ctx context.Context, eventID uint64, reason string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.AttendanceEvent{}).
		Where("event_id = ?", eventID).
		Update("last_error", reason)
	if result.Error != nil {
		return errs.Wrap(result.Error, "mark event failed")
	}
	if result.RowsAffected == 0 {
		return ports.ErrAttendanceEventGone
	}
	return nil
}

func (r *LedgerRepository) EventStats(ctx context.Context) (ports.LedgerStats, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.LedgerStats{}, err
	}

	var stats ports.LedgerStats
	// COALESCE keeps the scan valid on an empty table, where SUM is NULL.
	row := db.Model(&model.AttendanceEvent{}).Select(
		"COUNT(*) AS total, " +
			"COALESCE(SUM(CASE WHEN remote_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS synced, " +
			"COALESCE(SUM(CASE WHEN remote_id IS NULL THEN 1 ELSE 0 END), 0) AS pending, " +
			"COALESCE(SUM(CASE WHEN last_error IS NOT NULL THEN 1 ELSE 0 END), 0) AS errored",
	).Row()
	if err := row.Scan(&stats.Total, &stats.Synced, &stats.Pending, &stats.Errored); err != nil {
		return ports.LedgerStats{}, errs.Wrap(err, "scan ledger stats")
	}
	return stats, nil
}

func (r *LedgerRepository) DeleteEventsOlderThan(ctx context.Context, date string) (int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("date < ?", date).Delete(&model.AttendanceEvent{})
	if result.Error != nil {
		return 0, errs.Wrap(result.Error, "delete old events")
	}
	return result.RowsAffected, nil
}

// ==== terminals ====

func (r *LedgerRepository) ListTerminals(ctx context.Context, enabledOnly bool) ([]ports.Terminal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Terminal{}).Where("deleted_at IS NULL")
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}

	var rows []model.Terminal
	if err := query.Order("created_at asc, terminal_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query terminals")
	}

	items := make([]ports.Terminal, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapTerminal(row))
	}
	return items, nil
}

func (r *LedgerRepository) GetTerminal(ctx context.Context, terminalID uint64) (ports.Terminal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Terminal{}, err
	}

	var row model.Terminal
	if err := db.Where("terminal_id = ? AND deleted_at IS NULL", terminalID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Terminal{}, ports.ErrTerminalNotFound
		}
		return ports.Terminal{}, errs.Wrap(err, "query terminal")
	}
	return mapTerminal(row), nil
}

func (r *LedgerRepository) AddTerminal(ctx context.Context, input ports.TerminalCreate) (ports.Terminal, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Terminal{}, err
	}

	host := strings.TrimSpace(input.Host)
	if host == "" {
		return ports.Terminal{}, errors.New("terminal host is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = host
	}
	port := input.Port
	if port <= 0 {
		port = 4370
	}

	now := nowStamp()
	row := model.Terminal{
		Name:      name,
		Host:      host,
		Port:      port,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ports.Terminal{}, ports.ErrTerminalAddrInUse
		}
		return ports.Terminal{}, errs.Wrap(err, "insert terminal")
	}
	return mapTerminal(row), nil
}

func (r *LedgerRepository) UpdateTerminal(ctx context.Context, terminalID uint64, patch ports.TerminalPatch) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Host != nil {
		updates["host"] = strings.TrimSpace(*patch.Host)
	}
	if patch.Port != nil {
		updates["port"] = *patch.Port
	}
	if patch.Enabled != nil {
		updates["enabled"] = *patch.Enabled
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = nowStamp()

	result := db.Model(&model.Terminal{}).
		Where("terminal_id = ? AND deleted_at IS NULL", terminalID).
		Updates(updates)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return ports.ErrTerminalAddrInUse
		}
		return errs.Wrap(result.Error, "update terminal")
	}
	if result.RowsAffected == 0 {
		return ports.ErrTerminalNotFound
	}
	return nil
}

func (r *LedgerRepository) RemoveTerminal(ctx context.Context, terminalID uint64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	now := nowStamp()
	result := db.Model(&model.Terminal{}).
		Where("terminal_id = ? AND deleted_at IS NULL", terminalID).
		Updates(map[string]any{
			"deleted_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "soft delete terminal")
	}
	if result.RowsAffected == 0 {
		return ports.ErrTerminalNotFound
	}
	return nil
}

// TouchTerminalPull advances the terminal watermark. Called only after a
// successful pull, so a failed run re-scans the same window.
func (r *LedgerRepository) TouchTerminalPull(ctx context.Context, terminalID uint64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	now := nowStamp()
	result := db.Model(&model.Terminal{}).
		Where("terminal_id = ?", terminalID).
		Updates(map[string]any{
			"last_pull_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "touch terminal pull watermark")
	}
	if result.RowsAffected == 0 {
		return ports.ErrTerminalNotFound
	}
	return nil
}

// ==== sync runs ====

func (r *LedgerRepository) CreateRun(ctx context.Context, kind string) (uint64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return 0, err
	}

	row := model.SyncRun{
		Kind:      kind,
		Status:    ports.RunStatusStarted,
		StartedAt: nowStamp(),
	}
	if err := db.Create(&row).Error; err != nil {
		return 0, errs.Wrap(err, "insert sync run")
	}
	return row.RunID, nil
}

func (r *LedgerRepository) FinalizeRun(ctx context.Context, runID uint64, input ports.RunFinalize) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":       input.Status,
		"processed":    input.Processed,
		"succeeded":    input.Succeeded,
		"failed":       input.Failed,
		"completed_at": nowStamp(),
	}
	if input.Message != "" {
		updates["message"] = input.Message
	}
	if input.Metadata != "" {
		updates["metadata"] = input.Metadata
	}

	result := db.Model(&model.SyncRun{}).Where("run_id = ?", runID).Updates(updates)
	if result.Error != nil {
		return errs.Wrap(result.Error, "finalize sync run")
	}
	if result.RowsAffected == 0 {
		return ports.ErrRunNotFound
	}
	return nil
}

func (r *LedgerRepository) ListRuns(ctx context.Context, kind string, limit int) ([]ports.SyncRun, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.SyncRun{}).Order("started_at desc, run_id desc")
	if kind = strings.TrimSpace(kind); kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.SyncRun
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query sync runs")
	}

	items := make([]ports.SyncRun, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.SyncRun{
			RunID:       row.RunID,
			Kind:        row.Kind,
			Status:      row.Status,
			Processed:   row.Processed,
			Succeeded:   row.Succeeded,
			Failed:      row.Failed,
			Message:     row.Message,
			Metadata:    row.Metadata,
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
		})
	}
	return items, nil
}

// ==== helpers ====

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func mapEmployee(row model.Employee) ports.Employee {
	return ports.Employee{
		EmployeeID: row.EmployeeID,
		Code:       row.Code,
		Name:       row.Name,
		RemoteID:   row.RemoteID,
		CreatedAt:  row.CreatedAt,
		DeletedAt:  row.DeletedAt,
	}
}

func mapEvent(row model.AttendanceEvent) ports.AttendanceEvent {
	return ports.AttendanceEvent{
		EventID:    row.EventID,
		SyncID:     row.SyncID,
		EmployeeID: row.EmployeeID,
		Direction:  row.Direction,
		Date:       row.Date,
		Time:       row.Time,
		TerminalID: row.TerminalID,
		RemoteID:   row.RemoteID,
		LastError:  row.LastError,
		CreatedAt:  row.CreatedAt,
	}
}

func mapTerminal(row model.Terminal) ports.Terminal {
	return ports.Terminal{
		TerminalID: row.TerminalID,
		Name:       row.Name,
		Host:       row.Host,
		Port:       row.Port,
		Enabled:    row.Enabled,
		LastPullAt: row.LastPullAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		DeletedAt:  row.DeletedAt,
	}
}

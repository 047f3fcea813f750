package model

// AttendanceEvent rows are created exactly once by ingestion; only the
// sync-state columns (remote_id, last_error) change afterwards. The unique
// index on sync_id is the deduplication invariant, keeping concurrent pulls
// safe without application-level locking.
type AttendanceEvent struct {
	EventID    uint64  `gorm:"column:event_id;primaryKey;autoIncrement"`
	SyncID     string  `gorm:"column:sync_id;type:text;not null;uniqueIndex"`
	EmployeeID uint64  `gorm:"column:employee_id;not null;index"`
	Direction  string  `gorm:"column:direction;type:text;not null"`
	Date       string  `gorm:"column:date;type:text;not null;index"`
	Time       string  `gorm:"column:time;type:text;not null"`
	TerminalID *uint64 `gorm:"column:terminal_id;index"`
	RemoteID   *string `gorm:"column:remote_id;type:text;index"`
	LastError  *string `gorm:"column:last_error;type:text"`
	CreatedAt  string  `gorm:"column:created_at;type:text;not null"`
}

func (AttendanceEvent) TableName() string {
	return "attendance_events"
}

package model

type SyncRun struct {
	RunID       uint64  `gorm:"column:run_id;primaryKey;autoIncrement"`
	Kind        string  `gorm:"column:kind;type:text;not null;index"`
	Status      string  `gorm:"column:status;type:text;not null;index"`
	Processed   int     `gorm:"column:processed;not null;default:0"`
	Succeeded   int     `gorm:"column:succeeded;not null;default:0"`
	Failed      int     `gorm:"column:failed;not null;default:0"`
	Message     *string `gorm:"column:message;type:text"`
	Metadata    *string `gorm:"column:metadata;type:text"`
	StartedAt   string  `gorm:"column:started_at;type:text;not null;index"`
	CompletedAt *string `gorm:"column:completed_at;type:text"`
}

func (SyncRun) TableName() string {
	return "sync_runs"
}

package model

// Terminal rows are soft-deleted. The address uniqueness constraint is
// scoped to live rows (partial index, created in InitSchema) so a deleted
// terminal's address can be reused.
type Terminal struct {
	TerminalID uint64  `gorm:"column:terminal_id;primaryKey;autoIncrement"`
	Name       string  `gorm:"column:name;type:text;not null"`
	Host       string  `gorm:"column:host;type:text;not null"`
	Port       int     `gorm:"column:port;not null;default:4370"`
	Enabled    bool    `gorm:"column:enabled;not null;default:1"`
	LastPullAt *string `gorm:"column:last_pull_at;type:text"`
	CreatedAt  string  `gorm:"column:created_at;type:text;not null"`
	UpdatedAt  string  `gorm:"column:updated_at;type:text;not null"`
	DeletedAt  *string `gorm:"column:deleted_at;type:text;index"`
}

func (Terminal) TableName() string {
	return "terminals"
}

package model

// SettingKV backs the singleton settings slot: payroll credentials, session
// token, global pull/push watermarks.
type SettingKV struct {
	Key       string `gorm:"column:key;type:text;primaryKey"`
	Value     string `gorm:"column:value;type:text;not null"`
	UpdatedAt string `gorm:"column:updated_at;type:text;not null"`
}

func (SettingKV) TableName() string {
	return "settings_kv"
}

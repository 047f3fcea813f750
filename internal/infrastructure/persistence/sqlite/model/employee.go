package model

type Employee struct {
	EmployeeID uint64  `gorm:"column:employee_id;primaryKey;autoIncrement"`
	Code       string  `gorm:"column:code;type:text;not null;uniqueIndex"`
	Name       string  `gorm:"column:name;type:text;not null"`
	RemoteID   *string `gorm:"column:remote_id;type:text"`
	CreatedAt  string  `gorm:"column:created_at;type:text;not null"`
	DeletedAt  *string `gorm:"column:deleted_at;type:text;index"`
}

func (Employee) TableName() string {
	return "employees"
}

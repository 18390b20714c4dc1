package models

import "gorm.io/gorm"

// Setting 配置项：按组存储的键值对，读写时统一归一化
type Setting struct {
	gorm.Model
	GroupName string `json:"group" gorm:"column:group_name;type:varchar(50);uniqueIndex:idx_settings_group_key;not null"`
	Key       string `json:"key" gorm:"column:setting_key;type:varchar(100);uniqueIndex:idx_settings_group_key;not null"`
	Value     string `json:"value" gorm:"type:text"`
}

// TableName 设置表名
func (Setting) TableName() string {
	return "settings"
}

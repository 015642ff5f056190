package orm

import "time"

// Entry is one record of the persistent key-value store.
type Entry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:128"`
	Value     string
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "kv_entries"
}

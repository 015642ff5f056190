package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Farengier/aircon-market/internal/orm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrEmptyKey = errors.New("empty key")

// Store is a durable string key-value store.
type Store interface {
	// Get reports false when key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove of an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

type DB interface {
	GORM() *gorm.DB
	SyncNow()
}

// SQLStore keeps entries in the kv_entries table and requests a snapshot after every write.
type SQLStore struct {
	db DB
}

func NewSQLStore(db DB) (*SQLStore, error) {
	err := db.GORM().AutoMigrate(&orm.Entry{})
	if err != nil {
		return nil, fmt.Errorf("kv migrate failed: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var entries []orm.Entry
	res := s.db.GORM().WithContext(ctx).Where("entry_key = ?", key).Limit(1).Find(&entries)
	if res.Error != nil {
		return "", false, fmt.Errorf("kv get %q failed: %w", key, res.Error)
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[0].Value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	e := orm.Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	res := s.db.GORM().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e)
	if res.Error != nil {
		return fmt.Errorf("kv set %q failed: %w", key, res.Error)
	}
	s.db.SyncNow()
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	res := s.db.GORM().WithContext(ctx).Where("entry_key = ?", key).Delete(&orm.Entry{})
	if res.Error != nil {
		return fmt.Errorf("kv remove %q failed: %w", key, res.Error)
	}
	if res.RowsAffected > 0 {
		s.db.SyncNow()
	}
	return nil
}

// Memory is a Store without durability.
type Memory struct {
	mtx  sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.data, key)
	return nil
}

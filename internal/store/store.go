// Package store provides the transactional persistence layer backed by GORM.
package store

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/convohub/messaging-platform/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrPendingRunExists is returned when a conversation already has an
	// in-flight automation run.
	ErrPendingRunExists = errors.New("store: pending run exists for conversation")
	// ErrRunNotPending is returned when completing a run that already
	// reached a terminal status.
	ErrRunNotPending = errors.New("store: run is not pending")
)

// Store wraps a GORM database handle with domain queries.
type Store struct {
	db *gorm.DB
}

// Open connects to the database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	return New(db)
}

// New wraps an existing GORM handle and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(
		&model.Bot{},
		&model.Conversation{},
		&model.Message{},
		&model.AutomationRun{},
		&model.SystemEvent{},
		&model.Incident{},
	); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

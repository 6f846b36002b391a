// Package synclog keeps the append-only audit trail of sync attempts. The
// log is observability only; nothing in the sync path reads it back.
package synclog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Direction of a sync attempt.
const (
	DirectionPush = "local_to_remote"
	DirectionPull = "remote_to_local"
)

// Status of a sync attempt.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

const (
	opLogNew      = "synclog.log.new"
	opRecord      = "synclog.record"
	opListForUser = "synclog.list_for_user"
)

var errMissingDatabase = errors.New("database handle is required")

// LogError wraps an audit log failure with a stable operation.reason code.
type LogError struct {
	code string
	err  error
}

func (e *LogError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *LogError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *LogError) Code() string {
	return e.code
}

func newLogError(operation, reason string, cause error) error {
	return &LogError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Entry is one immutable sync attempt record. Entries are only ever
// inserted; rotation and retention live outside this service.
type Entry struct {
	EntryID          string `gorm:"column:entry_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;size:190;not null;index:idx_sync_log_user_time,priority:1"`
	NoteID           string `gorm:"column:note_id;size:190"`
	RemoteDocumentID string `gorm:"column:remote_document_id;size:190"`
	Direction        string `gorm:"column:direction;size:32;not null"`
	Status           string `gorm:"column:status;size:16;not null"`
	ErrorMessage     string `gorm:"column:error_message;type:text"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_sync_log_user_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "sync_log_entries"
}

// IDProvider issues identifiers for new log entries.
type IDProvider interface {
	NewID() (string, error)
}

// LogConfig carries the dependencies of the audit log.
type LogConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Log is the append-only sync audit log.
type Log struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewLog validates the configuration and constructs a Log.
func NewLog(cfg LogConfig) (*Log, error) {
	if cfg.Database == nil {
		return nil, newLogError(opLogNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newLogError(opLogNew, "missing_id_provider", errors.New("id provider is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{db: cfg.Database, idProvider: cfg.IDProvider, clock: clock, logger: logger}, nil
}

// Record appends one entry. The entry id and timestamp are assigned here;
// the caller never updates or deletes what it wrote.
func (l *Log) Record(ctx context.Context, entry Entry) error {
	entryID, err := l.idProvider.NewID()
	if err != nil {
		l.logError(opRecord, "id_generation_failed", err, zap.String("user_id", entry.UserID))
		return newLogError(opRecord, "id_generation_failed", err)
	}
	entry.EntryID = entryID
	entry.CreatedAtSeconds = l.clock().UTC().Unix()
	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.logError(opRecord, "insert_failed", err, zap.String("user_id", entry.UserID))
		return newLogError(opRecord, "insert_failed", err)
	}
	return nil
}

// ListForUser returns the user's most recent entries, newest first.
func (l *Log) ListForUser(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at_s DESC, entry_id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		l.logError(opListForUser, "query_failed", err, zap.String("user_id", userID))
		return nil, newLogError(opListForUser, "query_failed", err)
	}
	return entries, nil
}

func (l *Log) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	l.logger.Error("sync audit log error", attrs...)
}

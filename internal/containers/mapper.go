// Package containers binds local notebooks to remote containers and answers
// the reverse question for webhook routing: which user owns a container.
package containers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUnknownContainer indicates no mapping references the container id.
	ErrUnknownContainer = errors.New("containers: unknown container")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opMapperNew       = "containers.mapper.new"
	opResolve         = "containers.resolve"
	opUserForContainer = "containers.user_for_container"
)

// MapperError wraps a mapper failure with a stable operation.reason code.
type MapperError struct {
	code string
	err  error
}

func (e *MapperError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *MapperError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *MapperError) Code() string {
	return e.code
}

func newMapperError(operation, reason string, cause error) error {
	return &MapperError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Mapping binds one local notebook to one remote container, scoped to a
// user. Rows are immutable once written; there is no container migration.
type Mapping struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;primaryKey;size:190;not null"`
	ContainerID      string `gorm:"column:container_id;size:190;not null;index:idx_container_owner"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Mapping) TableName() string {
	return "container_mappings"
}

// ContainerCreator creates a remote container and returns its id.
type ContainerCreator interface {
	CreateContainer(ctx context.Context, title string) (string, error)
}

// MapperConfig carries the dependencies of the container mapper.
type MapperConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Mapper resolves notebook→container mappings, creating the remote
// container lazily on first use.
type Mapper struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewMapper validates the configuration and constructs a Mapper.
func NewMapper(cfg MapperConfig) (*Mapper, error) {
	if cfg.Database == nil {
		return nil, newMapperError(opMapperNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mapper{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Resolve returns the container id mapped to the notebook, creating the
// remote container and persisting the mapping when none exists. The insert
// is conflict-tolerant: whichever concurrent caller lands first wins and the
// stored mapping is re-read, so at most one mapping exists per notebook. A
// remote creation failure persists nothing.
func (m *Mapper) Resolve(ctx context.Context, userID, notebookID, title string, creator ContainerCreator) (string, error) {
	var existing Mapping
	err := m.db.WithContext(ctx).
		Where("user_id = ? AND notebook_id = ?", userID, notebookID).
		Take(&existing).Error
	if err == nil {
		return existing.ContainerID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		m.logError(opResolve, "select_failed", err, zap.String("user_id", userID), zap.String("notebook_id", notebookID))
		return "", newMapperError(opResolve, "select_failed", err)
	}

	if title == "" {
		title = fmt.Sprintf("Notebook %s", notebookID)
	}
	containerID, err := creator.CreateContainer(ctx, title)
	if err != nil {
		m.logError(opResolve, "container_create_failed", err, zap.String("user_id", userID), zap.String("notebook_id", notebookID))
		return "", newMapperError(opResolve, "container_create_failed", err)
	}

	mapping := Mapping{
		UserID:           userID,
		NotebookID:       notebookID,
		ContainerID:      containerID,
		CreatedAtSeconds: m.clock().UTC().Unix(),
	}
	if err := m.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mapping).Error; err != nil {
		m.logError(opResolve, "insert_failed", err, zap.String("user_id", userID), zap.String("notebook_id", notebookID))
		return "", newMapperError(opResolve, "insert_failed", err)
	}

	// Re-read so a racing first-sync converges on whichever mapping won.
	var stored Mapping
	if err := m.db.WithContext(ctx).
		Where("user_id = ? AND notebook_id = ?", userID, notebookID).
		Take(&stored).Error; err != nil {
		m.logError(opResolve, "reread_failed", err, zap.String("user_id", userID), zap.String("notebook_id", notebookID))
		return "", newMapperError(opResolve, "reread_failed", err)
	}
	return stored.ContainerID, nil
}

// UserForContainer answers the webhook-path reverse lookup: the user owning
// a remote container. Served by the container_id index, not a scan.
func (m *Mapper) UserForContainer(ctx context.Context, containerID string) (string, error) {
	var mapping Mapping
	err := m.db.WithContext(ctx).
		Where("container_id = ?", containerID).
		Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUnknownContainer
	}
	if err != nil {
		m.logError(opUserForContainer, "select_failed", err, zap.String("container_id", containerID))
		return "", newMapperError(opUserForContainer, "select_failed", err)
	}
	return mapping.UserID, nil
}

func (m *Mapper) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("container mapper error", attrs...)
}

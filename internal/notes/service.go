package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNoteNotFound indicates the requested note does not exist.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrNotebookNotFound indicates the requested notebook does not exist.
	ErrNotebookNotFound = errors.New("notes: notebook not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// DefaultNotebookID is the fixed identifier of the notebook that receives
// notes pulled from documents with no local counterpart.
const DefaultNotebookID = "inbox"

const (
	opServiceNew     = "notes.service.new"
	opGet            = "notes.get"
	opUpsert         = "notes.upsert"
	opCreate         = "notes.create"
	opFindByTitle    = "notes.find_by_title"
	opEnsureNotebook = "notes.ensure_notebook"
	opNotebookByID   = "notes.notebook_by_id"
)

// ServiceError wraps a service failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for new notes.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig carries the dependencies of the note service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the local note store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Get loads one note.
func (s *Service) Get(ctx context.Context, userID UserID, noteID NoteID) (*Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND note_id = ?", userID.String(), noteID.String()).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opGet, "select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID.String()))
		return nil, newServiceError(opGet, "select_failed", err)
	}
	return &note, nil
}

// Upsert writes the note's title, body and tags in place, preserving
// creation metadata when the note already exists.
func (s *Service) Upsert(ctx context.Context, note Note) error {
	if note.UserID == "" || note.NoteID == "" {
		return newServiceError(opUpsert, "missing_identifiers", ErrInvalidNoteID)
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Note
		err := tx.Where("user_id = ? AND note_id = ?", note.UserID, note.NoteID).
			Take(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpsert, "select_failed", err)
		}
		if err == nil {
			note.CreatedAtSeconds = existing.CreatedAtSeconds
			if note.NotebookID == "" {
				note.NotebookID = existing.NotebookID
			}
		}
		if note.CreatedAtSeconds == 0 {
			note.CreatedAtSeconds = s.clock().UTC().Unix()
		}
		if note.UpdatedAtSeconds == 0 {
			note.UpdatedAtSeconds = s.clock().UTC().Unix()
		}
		if err := tx.Save(&note).Error; err != nil {
			return newServiceError(opUpsert, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opUpsert, "transaction_failed", txErr,
			zap.String("user_id", note.UserID),
			zap.String("note_id", note.NoteID))
	}
	return txErr
}

// Create inserts a new note with a generated identifier and returns it.
func (s *Service) Create(ctx context.Context, userID UserID, notebookID NotebookID, title, bodyHTML string, tags []string, timestampSeconds int64) (*Note, error) {
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opCreate, "id_generation_failed", err)
	}
	if timestampSeconds <= 0 {
		timestampSeconds = s.clock().UTC().Unix()
	}
	note := Note{
		UserID:           userID.String(),
		NoteID:           noteID,
		NotebookID:       notebookID.String(),
		Title:            title,
		BodyHTML:         bodyHTML,
		TagsJSON:         EncodeTags(tags),
		CreatedAtSeconds: timestampSeconds,
		UpdatedAtSeconds: timestampSeconds,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "insert_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID))
		return nil, newServiceError(opCreate, "insert_failed", err)
	}
	return &note, nil
}

// FindByTitle returns the user's most recently updated note with the exact
// title, or ErrNoteNotFound.
func (s *Service) FindByTitle(ctx context.Context, userID UserID, title string) (*Note, error) {
	var note Note
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND title = ?", userID.String(), title).
		Order("updated_at_s DESC").
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		s.logError(opFindByTitle, "select_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opFindByTitle, "select_failed", err)
	}
	return &note, nil
}

// EnsureDefaultNotebook returns the user's default notebook, creating it on
// first use.
func (s *Service) EnsureDefaultNotebook(ctx context.Context, userID UserID, name string) (*Notebook, error) {
	var notebook Notebook
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notebook_id = ?", userID.String(), DefaultNotebookID).
		Take(&notebook).Error
	if err == nil {
		return &notebook, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opEnsureNotebook, "select_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opEnsureNotebook, "select_failed", err)
	}
	if name == "" {
		name = "Inbox"
	}
	notebook = Notebook{
		UserID:           userID.String(),
		NotebookID:       DefaultNotebookID,
		Name:             name,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).FirstOrCreate(&notebook).Error; err != nil {
		s.logError(opEnsureNotebook, "insert_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opEnsureNotebook, "insert_failed", err)
	}
	return &notebook, nil
}

// NotebookByID loads one notebook.
func (s *Service) NotebookByID(ctx context.Context, userID UserID, notebookID NotebookID) (*Notebook, error) {
	var notebook Notebook
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND notebook_id = ?", userID.String(), notebookID.String()).
		Take(&notebook).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotebookNotFound
	}
	if err != nil {
		s.logError(opNotebookByID, "select_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("notebook_id", notebookID.String()))
		return nil, newServiceError(opNotebookByID, "select_failed", err)
	}
	return &notebook, nil
}

// EncodeTags serializes a tag list to its storage form.
func EncodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// DecodeTags parses the storage form back into a tag list.
func DecodeTags(tagsJSON string) []string {
	if tagsJSON == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil
	}
	return tags
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}

package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidNotebookID indicates that a notebook identifier is empty or exceeds storage bounds.
	ErrInvalidNotebookID = errors.New("notes: invalid notebook id")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// NotebookID represents a validated notebook identifier.
type NotebookID string

// NewNotebookID validates raw input and returns a NotebookID.
func NewNotebookID(rawInput string) (NotebookID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNotebookID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNotebookID, maxIdentifierLength)
	}
	return NotebookID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NotebookID) String() string {
	return string(id)
}

// Note models the persisted local note.
type Note struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_notes_user_notebook,priority:1"`
	NoteID           string `gorm:"column:note_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;size:190;not null;index:idx_notes_user_notebook,priority:2"`
	Title            string `gorm:"column:title;size:512;not null"`
	BodyHTML         string `gorm:"column:body_html;type:text;not null"`
	TagsJSON         string `gorm:"column:tags_json;type:text;not null;default:'[]'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Notebook groups notes on the local side; it is the unit that maps to a
// remote container.
type Notebook struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	NotebookID       string `gorm:"column:notebook_id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:320;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Notebook) TableName() string {
	return "notebooks"
}

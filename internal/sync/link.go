package sync

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Link is the durable identity mapping between one local note and one
// remote document. A note carries at most one link; a note without a link
// has never been synced. LastAppliedAtSeconds is the last-writer-wins
// watermark: the source timestamp of the newest change applied through
// this link in either direction.
type Link struct {
	UserID               string `gorm:"column:user_id;primaryKey;size:190;not null"`
	NoteID               string `gorm:"column:note_id;primaryKey;size:190;not null"`
	RemoteDocumentID     string `gorm:"column:remote_document_id;size:190;not null;uniqueIndex:idx_sync_links_remote"`
	ContainerID          string `gorm:"column:container_id;size:190;not null"`
	LastAppliedAtSeconds int64  `gorm:"column:last_applied_at_s;not null"`
	CreatedAtSeconds     int64  `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Link) TableName() string {
	return "sync_links"
}

func (o *Orchestrator) linkForNote(ctx context.Context, userID, noteID string) (*Link, error) {
	var link Link
	err := o.db.WithContext(ctx).
		Where("user_id = ? AND note_id = ?", userID, noteID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (o *Orchestrator) linkForDocument(ctx context.Context, userID, remoteDocumentID string) (*Link, error) {
	var link Link
	err := o.db.WithContext(ctx).
		Where("user_id = ? AND remote_document_id = ?", userID, remoteDocumentID).
		Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// createLink inserts the link tolerating a concurrent first sync of the
// same pair: on conflict nothing is written and the stored row is re-read.
func (o *Orchestrator) createLink(ctx context.Context, link Link) (*Link, error) {
	if err := o.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error; err != nil {
		return nil, err
	}
	var stored Link
	if err := o.db.WithContext(ctx).
		Where("user_id = ? AND note_id = ?", link.UserID, link.NoteID).
		Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (o *Orchestrator) touchLink(ctx context.Context, link *Link, appliedAtSeconds int64) error {
	if appliedAtSeconds <= link.LastAppliedAtSeconds {
		appliedAtSeconds = link.LastAppliedAtSeconds
	}
	return o.db.WithContext(ctx).
		Model(&Link{}).
		Where("user_id = ? AND note_id = ?", link.UserID, link.NoteID).
		Update("last_applied_at_s", appliedAtSeconds).Error
}

// Package sync drives individual synchronization operations between the
// local note store and the remote workspace. Each push or pull is a
// one-shot operation: resolve integration, resolve container, transcode,
// write, log. Failures never escape the public surface; they are written
// to the audit log and reported as a boolean.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nimbusnotes/nimbus/backend/internal/codec"
	"github.com/nimbusnotes/nimbus/backend/internal/containers"
	"github.com/nimbusnotes/nimbus/backend/internal/integrations"
	"github.com/nimbusnotes/nimbus/backend/internal/notes"
	"github.com/nimbusnotes/nimbus/backend/internal/synclog"
	"github.com/nimbusnotes/nimbus/backend/internal/workspace"
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingNotes        = errors.New("note service is required")
	errMissingIntegrations = errors.New("integration store is required")
	errMissingContainers   = errors.New("container mapper is required")
	errMissingAuditLog     = errors.New("audit log is required")
	errMissingWorkspace    = errors.New("workspace client factory is required")
)

const (
	opOrchestratorNew = "sync.orchestrator.new"
	opPush            = "sync.push"
	opPull            = "sync.pull"
)

// WorkspaceAPI is the slice of the remote workspace surface the
// orchestrator needs. *workspace.Client satisfies it.
type WorkspaceAPI interface {
	CreateContainer(ctx context.Context, title string) (string, error)
	CreateDocument(ctx context.Context, containerID string, props workspace.DocumentProps, blocks []workspace.Block) (string, error)
	UpdateDocument(ctx context.Context, documentID string, props workspace.DocumentProps) error
	GetDocument(ctx context.Context, documentID string) (workspace.Document, error)
	ListBlocks(ctx context.Context, documentID string) ([]workspace.Block, error)
	AppendBlocks(ctx context.Context, documentID string, blocks []workspace.Block) error
	DeleteBlock(ctx context.Context, blockID string) error
}

// ClientFactory builds a workspace client bound to one access token.
type ClientFactory func(accessToken string) WorkspaceAPI

// OrchestratorConfig carries the dependencies of the sync orchestrator.
type OrchestratorConfig struct {
	Database            *gorm.DB
	Notes               *notes.Service
	Integrations        *integrations.Store
	Containers          *containers.Mapper
	AuditLog            *synclog.Log
	Workspace           ClientFactory
	Clock               func() time.Time
	Logger              *zap.Logger
	DefaultNotebookName string
}

// Orchestrator performs one-shot push and pull operations.
type Orchestrator struct {
	db                  *gorm.DB
	notes               *notes.Service
	integrations        *integrations.Store
	containers          *containers.Mapper
	auditLog            *synclog.Log
	workspace           ClientFactory
	clock               func() time.Time
	logger              *zap.Logger
	defaultNotebookName string
}

// NewOrchestrator validates the configuration and constructs an Orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s.missing_database: %w", opOrchestratorNew, errMissingDatabase)
	}
	if cfg.Notes == nil {
		return nil, fmt.Errorf("%s.missing_notes: %w", opOrchestratorNew, errMissingNotes)
	}
	if cfg.Integrations == nil {
		return nil, fmt.Errorf("%s.missing_integrations: %w", opOrchestratorNew, errMissingIntegrations)
	}
	if cfg.Containers == nil {
		return nil, fmt.Errorf("%s.missing_containers: %w", opOrchestratorNew, errMissingContainers)
	}
	if cfg.AuditLog == nil {
		return nil, fmt.Errorf("%s.missing_audit_log: %w", opOrchestratorNew, errMissingAuditLog)
	}
	if cfg.Workspace == nil {
		return nil, fmt.Errorf("%s.missing_workspace: %w", opOrchestratorNew, errMissingWorkspace)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		db:                  cfg.Database,
		notes:               cfg.Notes,
		integrations:        cfg.Integrations,
		containers:          cfg.Containers,
		auditLog:            cfg.AuditLog,
		workspace:           cfg.Workspace,
		clock:               clock,
		logger:              logger,
		defaultNotebookName: cfg.DefaultNotebookName,
	}, nil
}

// PushNote syncs one local note to the remote workspace. It returns a
// success flag rather than an error: every failure is caught here, written
// to the audit log, and reported as false.
func (o *Orchestrator) PushNote(ctx context.Context, userID, noteID string) bool {
	entry := synclog.Entry{
		UserID:    userID,
		NoteID:    noteID,
		Direction: synclog.DirectionPush,
	}
	err := o.push(ctx, userID, noteID, &entry)
	return o.finish(ctx, opPush, entry, err)
}

// PullDocument syncs one remote document into the local note store. Like
// PushNote it reports only a success flag.
func (o *Orchestrator) PullDocument(ctx context.Context, userID, remoteDocumentID string) bool {
	entry := synclog.Entry{
		UserID:           userID,
		RemoteDocumentID: remoteDocumentID,
		Direction:        synclog.DirectionPull,
	}
	err := o.pull(ctx, userID, remoteDocumentID, &entry)
	return o.finish(ctx, opPull, entry, err)
}

func (o *Orchestrator) finish(ctx context.Context, operation string, entry synclog.Entry, opErr error) bool {
	if opErr != nil {
		entry.Status = synclog.StatusFailed
		entry.ErrorMessage = opErr.Error()
		o.logger.Warn("sync operation failed",
			zap.String("operation", operation),
			zap.String("user_id", entry.UserID),
			zap.String("note_id", entry.NoteID),
			zap.String("remote_document_id", entry.RemoteDocumentID),
			zap.Error(opErr))
	} else {
		entry.Status = synclog.StatusSuccess
	}
	if recordErr := o.auditLog.Record(ctx, entry); recordErr != nil {
		// The audit log is observability only; a record failure does not
		// change the sync outcome.
		o.logger.Error("sync audit record failed",
			zap.String("operation", operation),
			zap.Error(recordErr))
	}
	return opErr == nil
}

func (o *Orchestrator) push(ctx context.Context, rawUserID, rawNoteID string, entry *synclog.Entry) error {
	userID, err := notes.NewUserID(rawUserID)
	if err != nil {
		return err
	}
	noteID, err := notes.NewNoteID(rawNoteID)
	if err != nil {
		return err
	}

	note, err := o.notes.Get(ctx, userID, noteID)
	if err != nil {
		return err
	}

	client, err := o.clientForUser(ctx, rawUserID)
	if err != nil {
		return err
	}

	containerTitle := ""
	if notebookID, nbErr := notes.NewNotebookID(note.NotebookID); nbErr == nil {
		if notebook, lookupErr := o.notes.NotebookByID(ctx, userID, notebookID); lookupErr == nil {
			containerTitle = notebook.Name
		}
	}
	containerID, err := o.containers.Resolve(ctx, rawUserID, note.NotebookID, containerTitle, client)
	if err != nil {
		return err
	}

	blocks := codec.Remote(codec.Encode(note.BodyHTML))
	props := workspace.DocumentProps{
		Title: note.Title,
		Tags:  notes.DecodeTags(note.TagsJSON),
	}

	link, err := o.linkForNote(ctx, note.UserID, note.NoteID)
	if err != nil {
		return err
	}

	if link != nil {
		entry.RemoteDocumentID = link.RemoteDocumentID
		if note.UpdatedAtSeconds < link.LastAppliedAtSeconds {
			// A newer remote state was already applied through this
			// link; last-writer-wins drops the stale push.
			o.logger.Info("push skipped, local note older than last applied state",
				zap.String("user_id", note.UserID),
				zap.String("note_id", note.NoteID))
			return nil
		}
		if err := client.UpdateDocument(ctx, link.RemoteDocumentID, props); err != nil {
			return err
		}
		if err := o.replaceBlocks(ctx, client, link.RemoteDocumentID, blocks); err != nil {
			return err
		}
		return o.touchLink(ctx, link, note.UpdatedAtSeconds)
	}

	documentID, err := client.CreateDocument(ctx, containerID, props, blocks)
	if err != nil {
		// No link is written on a failed create.
		return err
	}
	entry.RemoteDocumentID = documentID

	stored, err := o.createLink(ctx, Link{
		UserID:               note.UserID,
		NoteID:               note.NoteID,
		RemoteDocumentID:     documentID,
		ContainerID:          containerID,
		LastAppliedAtSeconds: note.UpdatedAtSeconds,
		CreatedAtSeconds:     o.clock().UTC().Unix(),
	})
	if err != nil {
		return err
	}
	entry.RemoteDocumentID = stored.RemoteDocumentID
	return nil
}

// replaceBlocks implements the full-replacement strategy: the remote block
// list is deleted and recreated so it exactly matches the encoded local
// content. The remote API has no atomic set-children primitive; any future
// diff-based updater must preserve that postcondition.
func (o *Orchestrator) replaceBlocks(ctx context.Context, client WorkspaceAPI, documentID string, blocks []workspace.Block) error {
	existing, err := client.ListBlocks(ctx, documentID)
	if err != nil {
		return err
	}
	for _, block := range existing {
		if block.ID == "" {
			continue
		}
		if err := client.DeleteBlock(ctx, block.ID); err != nil {
			return err
		}
	}
	return client.AppendBlocks(ctx, documentID, blocks)
}

func (o *Orchestrator) pull(ctx context.Context, rawUserID, remoteDocumentID string, entry *synclog.Entry) error {
	userID, err := notes.NewUserID(rawUserID)
	if err != nil {
		return err
	}
	if remoteDocumentID == "" {
		return errors.New("remote document id is required")
	}

	client, err := o.clientForUser(ctx, rawUserID)
	if err != nil {
		return err
	}

	document, err := client.GetDocument(ctx, remoteDocumentID)
	if err != nil {
		return err
	}
	blocks, err := client.ListBlocks(ctx, remoteDocumentID)
	if err != nil {
		return err
	}
	bodyHTML := codec.Decode(blocks)

	sourceSeconds := document.UpdatedAt.UTC().Unix()
	if document.UpdatedAt.IsZero() {
		sourceSeconds = o.clock().UTC().Unix()
	}

	link, err := o.linkForDocument(ctx, rawUserID, remoteDocumentID)
	if err != nil {
		return err
	}
	if link == nil {
		// Fall back to a title match so documents created remotely from
		// an existing unsynced note do not fork a duplicate.
		if matched, matchErr := o.notes.FindByTitle(ctx, userID, document.Title); matchErr == nil {
			existingLink, linkErr := o.linkForNote(ctx, matched.UserID, matched.NoteID)
			if linkErr != nil {
				return linkErr
			}
			if existingLink == nil {
				link, err = o.createLink(ctx, Link{
					UserID:               matched.UserID,
					NoteID:               matched.NoteID,
					RemoteDocumentID:     remoteDocumentID,
					ContainerID:          document.ContainerID,
					LastAppliedAtSeconds: 0,
					CreatedAtSeconds:     o.clock().UTC().Unix(),
				})
				if err != nil {
					return err
				}
			}
		} else if !errors.Is(matchErr, notes.ErrNoteNotFound) {
			return matchErr
		}
	}

	if link != nil {
		entry.NoteID = link.NoteID
		if sourceSeconds < link.LastAppliedAtSeconds {
			o.logger.Info("pull skipped, remote document older than last applied state",
				zap.String("user_id", rawUserID),
				zap.String("remote_document_id", remoteDocumentID))
			return nil
		}
		if err := o.notes.Upsert(ctx, notes.Note{
			UserID:           rawUserID,
			NoteID:           link.NoteID,
			Title:            document.Title,
			BodyHTML:         bodyHTML,
			TagsJSON:         notes.EncodeTags(document.Tags),
			UpdatedAtSeconds: sourceSeconds,
		}); err != nil {
			return err
		}
		return o.touchLink(ctx, link, sourceSeconds)
	}

	notebook, err := o.notes.EnsureDefaultNotebook(ctx, userID, o.defaultNotebookName)
	if err != nil {
		return err
	}
	notebookID, err := notes.NewNotebookID(notebook.NotebookID)
	if err != nil {
		return err
	}
	created, err := o.notes.Create(ctx, userID, notebookID, document.Title, bodyHTML, document.Tags, sourceSeconds)
	if err != nil {
		return err
	}
	entry.NoteID = created.NoteID

	if _, err := o.createLink(ctx, Link{
		UserID:               created.UserID,
		NoteID:               created.NoteID,
		RemoteDocumentID:     remoteDocumentID,
		ContainerID:          document.ContainerID,
		LastAppliedAtSeconds: sourceSeconds,
		CreatedAtSeconds:     o.clock().UTC().Unix(),
	}); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) clientForUser(ctx context.Context, userID string) (WorkspaceAPI, error) {
	integration, err := o.integrations.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	accessToken, err := o.integrations.AccessToken(integration)
	if err != nil {
		return nil, err
	}
	return o.workspace(accessToken), nil
}

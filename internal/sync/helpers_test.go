package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/nimbusnotes/nimbus/backend/internal/containers"
	"github.com/nimbusnotes/nimbus/backend/internal/integrations"
	"github.com/nimbusnotes/nimbus/backend/internal/notes"
	"github.com/nimbusnotes/nimbus/backend/internal/synclog"
	"github.com/nimbusnotes/nimbus/backend/internal/workspace"
)

var testBaseTime = time.Unix(1700000000, 0).UTC()

type sequentialIDs struct {
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type fakeDocument struct {
	containerID string
	props       workspace.DocumentProps
	blocks      []workspace.Block
	updatedAt   time.Time
}

// fakeWorkspace is an in-memory stand-in for the remote workspace API.
type fakeWorkspace struct {
	containerCalls  int
	documentCalls   int
	updateCalls     int
	deleteCalls     int
	nextDocument    int
	nextBlock       int
	documents       map[string]*fakeDocument
	createDocErr    error
	updateDocErr    error
	getDocumentErr  error
	appendBlocksErr error
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{documents: map[string]*fakeDocument{}}
}

func (f *fakeWorkspace) CreateContainer(_ context.Context, _ string) (string, error) {
	f.containerCalls++
	return "container-1", nil
}

func (f *fakeWorkspace) CreateDocument(_ context.Context, containerID string, props workspace.DocumentProps, blocks []workspace.Block) (string, error) {
	f.documentCalls++
	if f.createDocErr != nil {
		return "", f.createDocErr
	}
	f.nextDocument++
	documentID := fmt.Sprintf("document-%d", f.nextDocument)
	doc := &fakeDocument{containerID: containerID, props: props, updatedAt: testBaseTime}
	f.documents[documentID] = doc
	f.appendTo(doc, blocks)
	return documentID, nil
}

func (f *fakeWorkspace) UpdateDocument(_ context.Context, documentID string, props workspace.DocumentProps) error {
	f.updateCalls++
	if f.updateDocErr != nil {
		return f.updateDocErr
	}
	doc, ok := f.documents[documentID]
	if !ok {
		return errors.New("fake workspace: unknown document")
	}
	doc.props = props
	return nil
}

func (f *fakeWorkspace) GetDocument(_ context.Context, documentID string) (workspace.Document, error) {
	if f.getDocumentErr != nil {
		return workspace.Document{}, f.getDocumentErr
	}
	doc, ok := f.documents[documentID]
	if !ok {
		return workspace.Document{}, errors.New("fake workspace: unknown document")
	}
	return workspace.Document{
		ID:          documentID,
		ContainerID: doc.containerID,
		Title:       doc.props.Title,
		Tags:        doc.props.Tags,
		UpdatedAt:   doc.updatedAt,
	}, nil
}

func (f *fakeWorkspace) ListBlocks(_ context.Context, documentID string) ([]workspace.Block, error) {
	doc, ok := f.documents[documentID]
	if !ok {
		return nil, errors.New("fake workspace: unknown document")
	}
	listed := make([]workspace.Block, len(doc.blocks))
	copy(listed, doc.blocks)
	return listed, nil
}

func (f *fakeWorkspace) AppendBlocks(_ context.Context, documentID string, blocks []workspace.Block) error {
	if f.appendBlocksErr != nil {
		return f.appendBlocksErr
	}
	doc, ok := f.documents[documentID]
	if !ok {
		return errors.New("fake workspace: unknown document")
	}
	f.appendTo(doc, blocks)
	return nil
}

func (f *fakeWorkspace) DeleteBlock(_ context.Context, blockID string) error {
	f.deleteCalls++
	for _, doc := range f.documents {
		for i, block := range doc.blocks {
			if block.ID == blockID {
				doc.blocks = append(doc.blocks[:i], doc.blocks[i+1:]...)
				return nil
			}
		}
	}
	return errors.New("fake workspace: unknown block")
}

func (f *fakeWorkspace) appendTo(doc *fakeDocument, blocks []workspace.Block) {
	for _, block := range blocks {
		f.nextBlock++
		block.ID = fmt.Sprintf("block-%d", f.nextBlock)
		doc.blocks = append(doc.blocks, block)
	}
}

// seedDocument registers a remote-only document the tests can pull.
func (f *fakeWorkspace) seedDocument(documentID, containerID, title string, tags []string, updatedAt time.Time, blocks []workspace.Block) {
	doc := &fakeDocument{
		containerID: containerID,
		props:       workspace.DocumentProps{Title: title, Tags: tags},
		updatedAt:   updatedAt,
	}
	f.appendTo(doc, blocks)
	f.documents[documentID] = doc
}

type syncTestEnv struct {
	db           *gorm.DB
	orchestrator *Orchestrator
	workspaceAPI *fakeWorkspace
	notes        *notes.Service
	auditLog     *synclog.Log
	mapper       *containers.Mapper
	now          *time.Time
}

func newSyncTestEnv(t *testing.T) *syncTestEnv {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "sync.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(
		&notes.Note{},
		&notes.Notebook{},
		&integrations.Integration{},
		&containers.Mapping{},
		&Link{},
		&synclog.Entry{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := testBaseTime
	clock := func() time.Time { return now }
	ids := &sequentialIDs{}

	noteService, err := notes.NewService(notes.ServiceConfig{Database: db, Clock: clock, IDProvider: ids})
	if err != nil {
		t.Fatalf("build note service: %v", err)
	}
	key := make([]byte, integrations.CredentialKeyLen)
	store, err := integrations.NewStore(integrations.StoreConfig{
		Database:      db,
		CredentialKey: key,
		IDProvider:    ids,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("build integration store: %v", err)
	}
	mapper, err := containers.NewMapper(containers.MapperConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("build mapper: %v", err)
	}
	auditLog, err := synclog.NewLog(synclog.LogConfig{Database: db, IDProvider: ids, Clock: clock})
	if err != nil {
		t.Fatalf("build audit log: %v", err)
	}

	if _, err := store.Save(context.Background(), "user-1", "workspace-1", "Acme", "token-1"); err != nil {
		t.Fatalf("save integration: %v", err)
	}

	fake := newFakeWorkspace()
	env := &syncTestEnv{
		db:           db,
		workspaceAPI: fake,
		notes:        noteService,
		auditLog:     auditLog,
		mapper:       mapper,
		now:          &now,
	}
	env.orchestrator, err = NewOrchestrator(OrchestratorConfig{
		Database:            db,
		Notes:               noteService,
		Integrations:        store,
		Containers:          mapper,
		AuditLog:            auditLog,
		Workspace:           func(string) WorkspaceAPI { return fake },
		Clock:               func() time.Time { return now },
		DefaultNotebookName: "Inbox",
	})
	if err != nil {
		t.Fatalf("build orchestrator: %v", err)
	}
	return env
}

func (e *syncTestEnv) createNote(t *testing.T, title, bodyHTML string, tags []string, updatedAtSeconds int64) *notes.Note {
	t.Helper()
	userID, err := notes.NewUserID("user-1")
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	notebookID, err := notes.NewNotebookID(notes.DefaultNotebookID)
	if err != nil {
		t.Fatalf("notebook id: %v", err)
	}
	if _, err := e.notes.EnsureDefaultNotebook(context.Background(), userID, "Inbox"); err != nil {
		t.Fatalf("ensure notebook: %v", err)
	}
	note, err := e.notes.Create(context.Background(), userID, notebookID, title, bodyHTML, tags, updatedAtSeconds)
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	return note
}

func (e *syncTestEnv) linkFor(t *testing.T, noteID string) *Link {
	t.Helper()
	var link Link
	err := e.db.Where("user_id = ? AND note_id = ?", "user-1", noteID).Take(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("load link: %v", err)
	}
	return &link
}

func (e *syncTestEnv) loadNote(t *testing.T, noteID string) *notes.Note {
	t.Helper()
	var note notes.Note
	if err := e.db.Where("user_id = ? AND note_id = ?", "user-1", noteID).Take(&note).Error; err != nil {
		t.Fatalf("load note %q: %v", noteID, err)
	}
	return &note
}

func (e *syncTestEnv) auditEntries(t *testing.T) []synclog.Entry {
	t.Helper()
	entries, err := e.auditLog.ListForUser(context.Background(), "user-1", 100)
	if err != nil {
		t.Fatalf("list audit entries: %v", err)
	}
	return entries
}

func (e *syncTestEnv) noteCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&notes.Note{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		t.Fatalf("count notes: %v", err)
	}
	return count
}

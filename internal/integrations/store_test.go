package integrations

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	next int
}

func (g *sequentialIDs) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("integration-%d", g.next), nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "integrations.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Integration{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := NewStore(StoreConfig{
		Database:      db,
		CredentialKey: testKey(7),
		IDProvider:    &sequentialIDs{},
		Clock:         func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestSaveEncryptsAccessToken(t *testing.T) {
	store := newTestStore(t)
	integration, err := store.Save(context.Background(), "user-1", "ws-1", "Acme", "secret-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if integration.AccessTokenEncrypted == "" || integration.AccessTokenIV == "" {
		t.Fatalf("expected ciphertext and iv to be stored: %#v", integration)
	}
	if integration.AccessTokenEncrypted == "secret-token" {
		t.Fatalf("token stored in the clear")
	}
	if !integration.IsActive {
		t.Fatalf("expected new integration to be active")
	}

	token, err := store.AccessToken(integration)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "secret-token" {
		t.Fatalf("unexpected decrypted token: %q", token)
	}
}

func TestSaveUpsertsExistingWorkspace(t *testing.T) {
	store := newTestStore(t)
	first, err := store.Save(context.Background(), "user-1", "ws-1", "Acme", "token-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := store.Save(context.Background(), "user-1", "ws-1", "Acme Renamed", "token-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.IntegrationID != second.IntegrationID {
		t.Fatalf("expected upsert to reuse the row: %q vs %q", first.IntegrationID, second.IntegrationID)
	}
	if second.WorkspaceName != "Acme Renamed" {
		t.Fatalf("expected workspace name update, got %q", second.WorkspaceName)
	}
	token, err := store.AccessToken(second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "token-b" {
		t.Fatalf("expected rotated token, got %q", token)
	}
}

func TestActiveForUserReturnsNoIntegration(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.ActiveForUser(context.Background(), "user-absent"); !errors.Is(err, ErrNoIntegration) {
		t.Fatalf("expected ErrNoIntegration, got %v", err)
	}
}

func TestDeactivateSoftDisables(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Save(context.Background(), "user-1", "ws-1", "Acme", "token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Deactivate(context.Background(), "user-1", "ws-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.ActiveForUser(context.Background(), "user-1"); !errors.Is(err, ErrNoIntegration) {
		t.Fatalf("expected ErrNoIntegration after deactivation, got %v", err)
	}

	// The row survives for audit retention.
	reactivated, err := store.Save(context.Background(), "user-1", "ws-1", "Acme", "token-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reactivated.IntegrationID != "integration-1" {
		t.Fatalf("expected the original row to be reactivated, got %q", reactivated.IntegrationID)
	}
	if !reactivated.IsActive {
		t.Fatalf("expected reactivated integration to be active")
	}
}

func TestDeactivateUnknownWorkspaceReturnsNoIntegration(t *testing.T) {
	store := newTestStore(t)
	if err := store.Deactivate(context.Background(), "user-1", "ws-unknown"); !errors.Is(err, ErrNoIntegration) {
		t.Fatalf("expected ErrNoIntegration, got %v", err)
	}
}

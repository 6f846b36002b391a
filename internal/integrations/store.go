// Package integrations persists per-user workspace credentials. Access
// tokens are stored under authenticated encryption and only leave the
// package as decrypted strings handed to the workspace client.
package integrations

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNoIntegration indicates the user has no active workspace credential.
	ErrNoIntegration = errors.New("integrations: no active integration")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opStoreNew      = "integrations.store.new"
	opSave          = "integrations.save"
	opActiveForUser = "integrations.active_for_user"
	opDeactivate    = "integrations.deactivate"
	opAccessToken   = "integrations.access_token"
)

// StoreError wraps a store failure with a stable operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Integration is one user's credential for one connected workspace.
// Deactivation is soft; rows are never deleted so the audit trail keeps
// resolving.
type Integration struct {
	IntegrationID        string `gorm:"column:integration_id;primaryKey;size:190;not null"`
	UserID               string `gorm:"column:user_id;size:190;not null;index:idx_integrations_user_active,priority:1"`
	WorkspaceID          string `gorm:"column:workspace_id;size:190;not null"`
	WorkspaceName        string `gorm:"column:workspace_name;size:320;not null"`
	AccessTokenEncrypted string `gorm:"column:access_token_encrypted;type:text;not null"`
	AccessTokenIV        string `gorm:"column:access_token_iv;size:64;not null"`
	IsActive             bool   `gorm:"column:is_active;not null;default:true;index:idx_integrations_user_active,priority:2"`
	CreatedAtSeconds     int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds     int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Integration) TableName() string {
	return "workspace_integrations"
}

// IDProvider issues identifiers for new integration rows.
type IDProvider interface {
	NewID() (string, error)
}

// StoreConfig carries the dependencies of the integration store.
type StoreConfig struct {
	Database      *gorm.DB
	CredentialKey []byte
	IDProvider    IDProvider
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Store is the data-access layer for workspace integrations.
type Store struct {
	db         *gorm.DB
	cipher     *credentialCipher
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	cipher, err := newCredentialCipher(cfg.CredentialKey)
	if err != nil {
		return nil, newStoreError(opStoreNew, "invalid_credential_key", err)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errors.New("id provider is required"))
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:         cfg.Database,
		cipher:     cipher,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Save encrypts the access token and upserts the (user, workspace)
// integration, reactivating it when a deactivated row exists.
func (s *Store) Save(ctx context.Context, userID, workspaceID, workspaceName, accessToken string) (*Integration, error) {
	ciphertext, nonce, err := s.cipher.seal([]byte(accessToken))
	if err != nil {
		s.logError(opSave, "encrypt_failed", err, zap.String("user_id", userID))
		return nil, newStoreError(opSave, "encrypt_failed", err)
	}
	now := s.clock().UTC().Unix()

	var integration Integration
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ? AND workspace_id = ?", userID, workspaceID).
			Take(&integration).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return newStoreError(opSave, "select_failed", err)
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			integrationID, idErr := s.idProvider.NewID()
			if idErr != nil {
				return newStoreError(opSave, "id_generation_failed", idErr)
			}
			integration = Integration{
				IntegrationID:    integrationID,
				UserID:           userID,
				WorkspaceID:      workspaceID,
				CreatedAtSeconds: now,
			}
		}
		integration.WorkspaceName = workspaceName
		integration.AccessTokenEncrypted = base64.StdEncoding.EncodeToString(ciphertext)
		integration.AccessTokenIV = base64.StdEncoding.EncodeToString(nonce)
		integration.IsActive = true
		integration.UpdatedAtSeconds = now
		if err := tx.Save(&integration).Error; err != nil {
			return newStoreError(opSave, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSave, "transaction_failed", txErr, zap.String("user_id", userID))
		return nil, txErr
	}
	return &integration, nil
}

// ActiveForUser returns the user's active integration or ErrNoIntegration.
func (s *Store) ActiveForUser(ctx context.Context, userID string) (*Integration, error) {
	var integration Integration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at_s DESC").
		Take(&integration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoIntegration
	}
	if err != nil {
		s.logError(opActiveForUser, "select_failed", err, zap.String("user_id", userID))
		return nil, newStoreError(opActiveForUser, "select_failed", err)
	}
	return &integration, nil
}

// Deactivate soft-disables the (user, workspace) integration. The row and
// its ciphertext are retained.
func (s *Store) Deactivate(ctx context.Context, userID, workspaceID string) error {
	result := s.db.WithContext(ctx).
		Model(&Integration{}).
		Where("user_id = ? AND workspace_id = ? AND is_active = ?", userID, workspaceID, true).
		Updates(map[string]any{
			"is_active":    false,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opDeactivate, "update_failed", result.Error, zap.String("user_id", userID))
		return newStoreError(opDeactivate, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoIntegration
	}
	return nil
}

// AccessToken decrypts and returns the integration's workspace token.
func (s *Store) AccessToken(integration *Integration) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(integration.AccessTokenEncrypted)
	if err != nil {
		return "", newStoreError(opAccessToken, "ciphertext_decode_failed", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(integration.AccessTokenIV)
	if err != nil {
		return "", newStoreError(opAccessToken, "iv_decode_failed", err)
	}
	plaintext, err := s.cipher.open(ciphertext, nonce)
	if err != nil {
		s.logError(opAccessToken, "decrypt_failed", err, zap.String("integration_id", integration.IntegrationID))
		return "", newStoreError(opAccessToken, "decrypt_failed", err)
	}
	return string(plaintext), nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("integration store error", attrs...)
}

package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nimbusnotes/nimbus/backend/internal/integrations"
	"github.com/nimbusnotes/nimbus/backend/internal/sync"
	"github.com/nimbusnotes/nimbus/backend/internal/synclog"
)

const userIDContextKey = "nimbus_user_id"

const signaturePrefix = "sha256="

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingOrchestrator   = errors.New("orchestrator dependency required")
	errMissingDispatcher     = errors.New("dispatcher dependency required")
	errMissingIntegrations   = errors.New("integration store dependency required")
	errMissingSyncLog        = errors.New("sync log dependency required")
)

// TokenValidator checks a bearer token and returns the user id subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// NoteSyncer is the orchestrator surface exposed over HTTP.
type NoteSyncer interface {
	PushNote(ctx context.Context, userID, noteID string) bool
	PullDocument(ctx context.Context, userID, remoteDocumentID string) bool
}

// EventHandler is the webhook dispatcher surface exposed over HTTP.
type EventHandler interface {
	Handle(ctx context.Context, event sync.Event) error
}

// Dependencies collects everything the HTTP layer needs.
type Dependencies struct {
	TokenValidator TokenValidator
	Orchestrator   NoteSyncer
	Dispatcher     EventHandler
	Integrations   *integrations.Store
	SyncLog        *synclog.Log
	WebhookSecret  []byte
	Logger         *zap.Logger
}

// NewHTTPHandler validates dependencies and builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Orchestrator == nil {
		return nil, errMissingOrchestrator
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if deps.Integrations == nil {
		return nil, errMissingIntegrations
	}
	if deps.SyncLog == nil {
		return nil, errMissingSyncLog
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenValidator,
		orchestrator:  deps.Orchestrator,
		dispatcher:    deps.Dispatcher,
		integrations:  deps.Integrations,
		syncLog:       deps.SyncLog,
		webhookSecret: deps.WebhookSecret,
		logger:        logger,
	}

	router.POST("/webhooks/workspace", handler.handleWorkspaceWebhook)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/integrations", handler.handleSaveIntegration)
	protected.DELETE("/integrations/:workspaceID", handler.handleDeactivateIntegration)
	protected.POST("/notes/:noteID/sync", handler.handlePushNote)
	protected.POST("/sync/pull", handler.handlePullDocument)
	protected.GET("/sync/log", handler.handleSyncLog)

	return router, nil
}

type httpHandler struct {
	tokens        TokenValidator
	orchestrator  NoteSyncer
	dispatcher    EventHandler
	integrations  *integrations.Store
	syncLog       *synclog.Log
	webhookSecret []byte
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.tokens.ValidateToken(strings.TrimSpace(token))
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) requestUserID(c *gin.Context) (string, bool) {
	value, exists := c.Get(userIDContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	userID, ok := value.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

type saveIntegrationPayload struct {
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
	AccessToken   string `json:"access_token"`
}

func (h *httpHandler) handleSaveIntegration(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request saveIntegrationPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.WorkspaceID) == "" ||
		strings.TrimSpace(request.AccessToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	integration, err := h.integrations.Save(c.Request.Context(), userID,
		strings.TrimSpace(request.WorkspaceID), strings.TrimSpace(request.WorkspaceName), request.AccessToken)
	if err != nil {
		h.logger.Error("integration save failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integration_save_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"integration_id": integration.IntegrationID,
		"workspace_id":   integration.WorkspaceID,
		"is_active":      integration.IsActive,
	})
}

func (h *httpHandler) handleDeactivateIntegration(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	workspaceID := strings.TrimSpace(c.Param("workspaceID"))
	if workspaceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.integrations.Deactivate(c.Request.Context(), userID, workspaceID)
	if errors.Is(err, integrations.ErrNoIntegration) {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("integration deactivate failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "integration_deactivate_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_active": false})
}

func (h *httpHandler) handlePushNote(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	noteID := strings.TrimSpace(c.Param("noteID"))
	if noteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	synced := h.orchestrator.PushNote(c.Request.Context(), userID, noteID)
	c.JSON(http.StatusOK, gin.H{"synced": synced})
}

type pullRequestPayload struct {
	RemoteDocumentID string `json:"remote_document_id"`
}

func (h *httpHandler) handlePullDocument(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request pullRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.RemoteDocumentID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	synced := h.orchestrator.PullDocument(c.Request.Context(), userID, strings.TrimSpace(request.RemoteDocumentID))
	c.JSON(http.StatusOK, gin.H{"synced": synced})
}

type syncLogEntryPayload struct {
	UserID           string `json:"user_id"`
	NoteID           string `json:"note_id,omitempty"`
	RemoteDocumentID string `json:"remote_document_id,omitempty"`
	Direction        string `json:"direction"`
	Status           string `json:"status"`
	ErrorMessage     string `json:"error_message,omitempty"`
	CreatedAtSeconds int64  `json:"created_at_s"`
}

func (h *httpHandler) handleSyncLog(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}
	entries, err := h.syncLog.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("sync log query failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_log_query_failed"})
		return
	}
	payload := make([]syncLogEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, syncLogEntryPayload{
			UserID:           entry.UserID,
			NoteID:           entry.NoteID,
			RemoteDocumentID: entry.RemoteDocumentID,
			Direction:        entry.Direction,
			Status:           entry.Status,
			ErrorMessage:     entry.ErrorMessage,
			CreatedAtSeconds: entry.CreatedAtSeconds,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (h *httpHandler) handleWorkspaceWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if len(h.webhookSecret) > 0 {
		if !verifySignature(h.webhookSecret, body, c.GetHeader("X-Workspace-Signature")) {
			h.logger.Warn("webhook signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}
	}

	var event sync.Event
	if err := json.Unmarshal(body, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	if err := h.dispatcher.Handle(c.Request.Context(), event); err != nil {
		// Signal the remote system to redeliver; only infrastructure
		// failures surface here.
		h.logger.Error("webhook dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func verifySignature(secret, body []byte, header string) bool {
	encoded, found := strings.CutPrefix(header, signaturePrefix)
	if !found {
		return false
	}
	provided, err := hex.DecodeString(encoded)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

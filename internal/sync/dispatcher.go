package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nimbusnotes/nimbus/backend/internal/containers"
)

// Webhook event kinds acted on. Anything else is ignored.
const (
	EventDocumentCreated = "document.created"
	EventDocumentUpdated = "document.updated"
)

// Event is an inbound change notification from the remote system.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData carries the changed document and its parent container.
type EventData struct {
	ID     string      `json:"id"`
	Parent EventParent `json:"parent"`
}

// EventParent identifies the container holding the changed document.
type EventParent struct {
	DatabaseID string `json:"database_id"`
}

// DocumentPuller is the orchestrator surface the dispatcher consumes.
type DocumentPuller interface {
	PullDocument(ctx context.Context, userID, remoteDocumentID string) bool
}

// DispatcherConfig carries the dependencies of the webhook dispatcher.
type DispatcherConfig struct {
	Containers *containers.Mapper
	Puller     DocumentPuller
	Logger     *zap.Logger
}

// Dispatcher routes inbound webhook events to the owning user's pull path.
// It performs no retries of its own; redelivery is the remote system's
// responsibility and the pull path is idempotent.
type Dispatcher struct {
	containers *containers.Mapper
	puller     DocumentPuller
	logger     *zap.Logger
}

// NewDispatcher validates the configuration and constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Containers == nil {
		return nil, fmt.Errorf("sync.dispatcher.new.missing_containers: %w", errMissingContainers)
	}
	if cfg.Puller == nil {
		return nil, errors.New("sync.dispatcher.new.missing_puller: document puller is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		containers: cfg.Containers,
		puller:     cfg.Puller,
		logger:     logger,
	}, nil
}

// Handle processes one webhook event. Unknown event types and containers
// that map to no local user are dropped without error; only infrastructure
// failures (the reverse lookup itself breaking) are returned, so the
// caller can signal the remote system to redeliver.
func (d *Dispatcher) Handle(ctx context.Context, event Event) error {
	if event.Type != EventDocumentCreated && event.Type != EventDocumentUpdated {
		d.logger.Debug("webhook event type ignored", zap.String("type", event.Type))
		return nil
	}
	if event.Data.ID == "" || event.Data.Parent.DatabaseID == "" {
		d.logger.Info("webhook event dropped, missing identifiers",
			zap.String("type", event.Type))
		return nil
	}

	userID, err := d.containers.UserForContainer(ctx, event.Data.Parent.DatabaseID)
	if errors.Is(err, containers.ErrUnknownContainer) {
		// Not this deployment's data; informational, not a sync failure.
		d.logger.Info("webhook event dropped, unknown container",
			zap.String("container_id", event.Data.Parent.DatabaseID),
			zap.String("remote_document_id", event.Data.ID))
		return nil
	}
	if err != nil {
		return err
	}

	started := time.Now()
	synced := d.puller.PullDocument(ctx, userID, event.Data.ID)
	d.logger.Info("webhook event dispatched",
		zap.String("type", event.Type),
		zap.String("user_id", userID),
		zap.String("remote_document_id", event.Data.ID),
		zap.Bool("synced", synced),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

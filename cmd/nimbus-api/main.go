package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nimbusnotes/nimbus/backend/internal/auth"
	"github.com/nimbusnotes/nimbus/backend/internal/config"
	"github.com/nimbusnotes/nimbus/backend/internal/containers"
	"github.com/nimbusnotes/nimbus/backend/internal/database"
	"github.com/nimbusnotes/nimbus/backend/internal/integrations"
	"github.com/nimbusnotes/nimbus/backend/internal/logging"
	"github.com/nimbusnotes/nimbus/backend/internal/notes"
	"github.com/nimbusnotes/nimbus/backend/internal/server"
	"github.com/nimbusnotes/nimbus/backend/internal/sync"
	"github.com/nimbusnotes/nimbus/backend/internal/synclog"
	"github.com/nimbusnotes/nimbus/backend/internal/workspace"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nimbus-api",
		Short: "Nimbus workspace sync service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("workspace-api-base-url", defaults.GetString("workspace.api_base_url"), "Remote workspace API base URL")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Backend token TTL in minutes")
	cmd.PersistentFlags().String("default-notebook-name", defaults.GetString("sync.default_notebook_name"), "Name of the notebook receiving pulled documents")
	cmd.PersistentFlags().String("signing-secret", "", "Backend signing secret (overrides env)")
	cmd.PersistentFlags().String("webhook-secret", "", "Webhook HMAC secret (overrides env)")
	cmd.PersistentFlags().String("credential-key", "", "Base64 credential encryption key (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "workspace.api_base_url", "workspace-api-base-url")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "sync.default_notebook_name", "default-notebook-name")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "workspace.webhook_secret", "webhook-secret")
	bindFlag(cmd, "credentials.encryption_key", "credential-key")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	idProvider := notes.NewUUIDProvider()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "nimbus-app",
		Audience:      "nimbus-sync",
		TokenTTL:      appConfig.TokenTTL,
	})

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	integrationStore, err := integrations.NewStore(integrations.StoreConfig{
		Database:      db,
		CredentialKey: appConfig.CredentialKey,
		IDProvider:    idProvider,
		Clock:         time.Now,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	containerMapper, err := containers.NewMapper(containers.MapperConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	auditLog, err := synclog.NewLog(synclog.LogConfig{
		Database:   db,
		IDProvider: idProvider,
		Clock:      time.Now,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 20 * time.Second}
	clientFactory := func(accessToken string) sync.WorkspaceAPI {
		return workspace.NewClient(workspace.ClientOptions{
			BaseURL:     appConfig.WorkspaceAPIBaseURL,
			AccessToken: accessToken,
			HTTPClient:  httpClient,
			UserAgent:   "nimbus-sync/1.0",
		})
	}

	orchestrator, err := sync.NewOrchestrator(sync.OrchestratorConfig{
		Database:            db,
		Notes:               notesService,
		Integrations:        integrationStore,
		Containers:          containerMapper,
		AuditLog:            auditLog,
		Workspace:           clientFactory,
		Clock:               time.Now,
		Logger:              logger,
		DefaultNotebookName: appConfig.DefaultNotebookName,
	})
	if err != nil {
		return err
	}

	dispatcher, err := sync.NewDispatcher(sync.DispatcherConfig{
		Containers: containerMapper,
		Puller:     orchestrator,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenManager,
		Orchestrator:   orchestrator,
		Dispatcher:     dispatcher,
		Integrations:   integrationStore,
		SyncLog:        auditLog,
		WebhookSecret:  []byte(appConfig.WebhookSecret),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

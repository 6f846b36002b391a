package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "NIMBUS"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "nimbus.db"
	defaultLogLevel            = "info"
	defaultWorkspaceAPIBaseURL = "https://api.workspace.dev"
	defaultTokenTTLMinutes     = 30
	defaultNotebookName        = "Inbox"
)

// AppConfig captures runtime configuration for the sync service.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	SigningSecret       string
	TokenTTL            time.Duration
	WorkspaceAPIBaseURL string
	WebhookSecret       string
	CredentialKey       []byte
	DefaultNotebookName string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("workspace.api_base_url", defaultWorkspaceAPIBaseURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("sync.default_notebook_name", defaultNotebookName)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		TokenTTL:            time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		WorkspaceAPIBaseURL: configViper.GetString("workspace.api_base_url"),
		WebhookSecret:       configViper.GetString("workspace.webhook_secret"),
		DefaultNotebookName: configViper.GetString("sync.default_notebook_name"),
	}

	rawKey := configViper.GetString("credentials.encryption_key")
	if strings.TrimSpace(rawKey) != "" {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rawKey))
		if err != nil {
			return AppConfig{}, fmt.Errorf("credentials.encryption_key must be base64: %w", err)
		}
		cfg.CredentialKey = decoded
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if len(c.CredentialKey) != 32 {
		return fmt.Errorf("credentials.encryption_key must decode to 32 bytes, got %d", len(c.CredentialKey))
	}
	if strings.TrimSpace(c.WorkspaceAPIBaseURL) == "" {
		return fmt.Errorf("workspace.api_base_url is required")
	}
	return nil
}

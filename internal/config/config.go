package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "CHARTNOTES"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "chartnotes.db"
	defaultLogLevel     = "info"
	defaultLogEncoding  = "json"
	defaultAuthIssuer   = "chartnotes-auth"
	defaultPresignTTL   = time.Hour
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	AuthSigningSecret string
	AuthIssuer        string
	StorageEndpoint   string
	StorageBucket     string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageUseSSL     bool
	PresignTTL        time.Duration
	LogLevel          string
	LogEncoding       string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper
// instance. Keys map to environment variables under the CHARTNOTES prefix,
// so storage.endpoint reads CHARTNOTES_STORAGE_ENDPOINT.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("storage.use_ssl", true)
	configViper.SetDefault("storage.presign_ttl", defaultPresignTTL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		StorageEndpoint:   configViper.GetString("storage.endpoint"),
		StorageBucket:     configViper.GetString("storage.bucket"),
		StorageAccessKey:  configViper.GetString("storage.access_key"),
		StorageSecretKey:  configViper.GetString("storage.secret_key"),
		StorageUseSSL:     configViper.GetBool("storage.use_ssl"),
		PresignTTL:        configViper.GetDuration("storage.presign_ttl"),
		LogLevel:          configViper.GetString("log.level"),
		LogEncoding:       configViper.GetString("log.encoding"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StorageEndpoint) == "" {
		return fmt.Errorf("storage.endpoint is required")
	}
	if strings.TrimSpace(c.StorageBucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if strings.TrimSpace(c.StorageAccessKey) == "" {
		return fmt.Errorf("storage.access_key is required")
	}
	if strings.TrimSpace(c.StorageSecretKey) == "" {
		return fmt.Errorf("storage.secret_key is required")
	}
	if c.PresignTTL <= 0 {
		return fmt.Errorf("storage.presign_ttl must be positive")
	}
	return nil
}

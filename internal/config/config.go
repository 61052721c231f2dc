package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// Catalog API
	CatalogBaseURL string        `mapstructure:"catalog-base-url"`
	CatalogAPIKey  string        `mapstructure:"catalog-api-key"`
	FetchLimit     int           `mapstructure:"fetch-limit"`
	FetchTimeout   time.Duration `mapstructure:"fetch-timeout"`
	BreedIDs       []string      `mapstructure:"breed-ids"`

	// HTTP server
	ListenAddr string `mapstructure:"listen-addr"`

	// Run report export (disabled when bucket is empty)
	ReportBucket string `mapstructure:"report-bucket"`
	ReportRegion string `mapstructure:"report-region"`
	ReportPrefix string `mapstructure:"report-prefix"`

	// Queue trigger (disabled when URL is empty)
	NATSURL     string `mapstructure:"nats-url"`
	NATSSubject string `mapstructure:"nats-subject"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("sqlite-path", ".artifacts/catvault.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm")
	viper.SetDefault("catalog-base-url", "https://api.thecatapi.com/v1")
	viper.SetDefault("catalog-api-key", "")
	viper.SetDefault("fetch-limit", 25)
	viper.SetDefault("fetch-timeout", 30*time.Second)
	viper.SetDefault("breed-ids", []string{})
	viper.SetDefault("listen-addr", ":8080")
	viper.SetDefault("report-bucket", "")
	viper.SetDefault("report-region", "us-east-1")
	viper.SetDefault("report-prefix", "runs/")
	viper.SetDefault("nats-url", "")
	viper.SetDefault("nats-subject", "catvault.fetch")

	// Environment variables (will be CATVAULT_CATALOG_API_KEY, etc.)
	viper.SetEnvPrefix("CATVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.catvault")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks store and server settings
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return errors.Configuration("config", "sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return errors.Configuration("config", "fsm-db-path cannot be empty")
	}
	if c.FetchLimit <= 0 {
		return errors.Configuration("config", "fetch-limit must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.Configuration("config", "fetch-timeout must be positive")
	}
	if c.ReportBucket != "" && c.ReportRegion == "" {
		return errors.Configuration("config", "report-region is required when report-bucket is set")
	}
	return nil
}

// ValidateCatalog checks the settings the catalog API needs. It runs before
// any network call so a missing key fails the run up front.
func (c *Config) ValidateCatalog() error {
	if strings.TrimSpace(c.CatalogBaseURL) == "" {
		return errors.Configuration("config", "catalog-base-url cannot be empty")
	}
	if strings.TrimSpace(c.CatalogAPIKey) == "" {
		return errors.Configuration("config", "catalog-api-key cannot be empty")
	}
	return nil
}

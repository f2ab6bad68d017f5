package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration
type Config struct {
	Stripe   StripeConfig   `koanf:"stripe"`
	EveryOrg EveryOrgConfig `koanf:"everyorg"`
	Donors   DonorsConfig   `koanf:"donors"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// StripeConfig configures the Stripe source. An empty key disables it.
type StripeConfig struct {
	SecretKey string `koanf:"secret_key"`
	Match     string `koanf:"match" validate:"oneof=amount reference"`
	NameField string `koanf:"name_field" validate:"required"`
	LinkField string `koanf:"link_field" validate:"required"`
}

// EveryOrgConfig configures the every.org source
type EveryOrgConfig struct {
	CSVPath       string        `koanf:"csv_path"`
	SessionCookie string        `koanf:"session_cookie"`
	BalanceURL    string        `koanf:"balance_url" validate:"omitempty,url"`
	Privacy       string        `koanf:"privacy" validate:"oneof=drop redact"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

// DonorsConfig holds file paths and the reconciliation constants
type DonorsConfig struct {
	InfoPath         string `koanf:"info_path" validate:"required"`
	OutPath          string `koanf:"out_path" validate:"required"`
	MetricsPath      string `koanf:"metrics_path" validate:"required"`
	BaseCurrency     string `koanf:"base_currency" validate:"required,len=3"`
	GracePeriodDays  int    `koanf:"grace_period_days" validate:"gte=0"`
	SponsorThreshold int64  `koanf:"sponsor_threshold" validate:"gt=0"`
}

// DatabaseConfig enables run history when URL is set
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// ServerConfig configures the serve command
type ServerConfig struct {
	Port            string        `koanf:"port" validate:"required,numeric"`
	WebhookSecret   string        `koanf:"webhook_secret"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gte=0"`
}

// LoggingConfig configures the global logger
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

const (
	configPathEnvVar  = "CONFIG_PATH"
	defaultConfigPath = "donors.yaml"

	everyOrgBalanceRoute = "https://api.www.every.org/api/nonprofits/958ff03c-9c7b-44a4-a66a-2fcc9b8dfed7/admin/donationsBalance"
)

// defaultConfig returns the configuration used when nothing overrides it
func defaultConfig() *Config {
	return &Config{
		Stripe: StripeConfig{
			Match:     string(MatchByAmount),
			NameField: "nametolistinbevycredits",
			LinkField: "linktolistinbevycredits",
		},
		EveryOrg: EveryOrgConfig{
			CSVPath:    "every_org_donors/donors.csv",
			BalanceURL: everyOrgBalanceRoute,
			Privacy:    string(PrivacyDrop),
			Timeout:    30 * time.Second,
		},
		Donors: DonorsConfig{
			InfoPath:         "donor_info.toml",
			OutPath:          "donors.toml",
			MetricsPath:      "metrics.toml",
			BaseCurrency:     "usd",
			GracePeriodDays:  0,
			SponsorThreshold: DefaultSponsorThreshold,
		},
		Server: ServerConfig{
			Port:            "3000",
			RefreshInterval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps environment variables onto config keys.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"stripe_secret_key": "stripe.secret_key",
	"stripe_match":      "stripe.match",
	"stripe_name_field": "stripe.name_field",
	"stripe_link_field": "stripe.link_field",

	"everyorg_csv_path":        "everyorg.csv_path",
	"every_org_session_cookie": "everyorg.session_cookie",
	"everyorg_balance_url":     "everyorg.balance_url",
	"everyorg_privacy":         "everyorg.privacy",
	"everyorg_timeout":         "everyorg.timeout",

	"donors_info_path":         "donors.info_path",
	"donors_out_path":          "donors.out_path",
	"donors_metrics_path":      "donors.metrics_path",
	"donors_base_currency":     "donors.base_currency",
	"donors_grace_period_days": "donors.grace_period_days",
	"donors_sponsor_threshold": "donors.sponsor_threshold",

	"database_url": "database.url",

	"port":                    "server.port",
	"webhook_secret":          "server.webhook_secret",
	"server_refresh_interval": "server.refresh_interval",

	"log_level":  "logging.level",
	"log_format": "logging.format",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// loadConfig layers defaults, an optional YAML file and the environment.
// A .env file in the working directory is loaded into the environment first.
func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the YAML file to load, or "" when there is none
func findConfigFile() string {
	if path := os.Getenv(configPathEnvVar); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// Validate checks field constraints
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// recency returns the recency policy for this configuration
func (c *Config) recency() RecencyPolicy {
	return RecencyPolicy{GracePeriodDays: c.Donors.GracePeriodDays}
}

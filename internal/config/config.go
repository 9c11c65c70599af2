// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	System      SystemConfig      `yaml:"system"`
	Storage     StorageConfig     `yaml:"storage"`
	Marketplace MarketplaceConfig `yaml:"marketplace"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Alerts      AlertsConfig      `yaml:"alerts"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// StorageConfig locates the durable files the engine owns
type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	InstancesFile string `yaml:"instances_file"`
	RulesFile     string `yaml:"rules_file"`
	HistoryDB     string `yaml:"history_db"`
}

// MarketplaceConfig tunes the outbound HTTP client
type MarketplaceConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxRetries        int     `yaml:"max_retries"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
}

// DefaultsConfig supplies fallbacks for instance fields left empty when an
// instance is registered or loaded from disk
type DefaultsConfig struct {
	APIURL        string `yaml:"api_url"`
	GameID        string `yaml:"game_id"`
	Currency      string `yaml:"currency"`
	CheckInterval int    `yaml:"check_interval"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AlertsConfig configures the notification channels. Empty values leave the
// corresponding channel disabled.
type AlertsConfig struct {
	SlackWebhookURL  string `yaml:"slack_webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion. A missing file yields the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}

	if c.Marketplace.RequestsPerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "marketplace.requests_per_second",
			Value:   c.Marketplace.RequestsPerSecond,
			Message: "must be positive",
		}.Error())
	}
	if c.Marketplace.MaxRetries < 0 || c.Marketplace.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "marketplace.max_retries",
			Value:   c.Marketplace.MaxRetries,
			Message: "must be between 0 and 10",
		}.Error())
	}
	if c.Marketplace.TimeoutSeconds < 1 || c.Marketplace.TimeoutSeconds > 300 {
		errs = append(errs, ValidationError{
			Field:   "marketplace.timeout_seconds",
			Value:   c.Marketplace.TimeoutSeconds,
			Message: "must be between 1 and 300",
		}.Error())
	}

	if c.Defaults.CheckInterval < 1 {
		errs = append(errs, ValidationError{
			Field:   "defaults.check_interval",
			Value:   c.Defaults.CheckInterval,
			Message: "must be at least 1 second",
		}.Error())
	}
	if !strings.HasPrefix(c.Defaults.APIURL, "http") {
		errs = append(errs, ValidationError{
			Field:   "defaults.api_url",
			Value:   c.Defaults.APIURL,
			Message: "must be an http(s) URL",
		}.Error())
	}

	if c.Telemetry.EnableMetrics && (c.Telemetry.MetricsPort < 1 || c.Telemetry.MetricsPort > 65535) {
		errs = append(errs, ValidationError{
			Field:   "telemetry.metrics_port",
			Value:   c.Telemetry.MetricsPort,
			Message: "must be a valid TCP port",
		}.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// InstancesPath returns the resolved path of the instance list file
func (c *Config) InstancesPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.InstancesFile)
}

// RulesPath returns the resolved path of the price rule file
func (c *Config) RulesPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.RulesFile)
}

// HistoryPath returns the resolved path of the reconciliation history database
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.HistoryDB)
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.System.LogLevel == "" {
		c.System.LogLevel = d.System.LogLevel
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Storage.InstancesFile == "" {
		c.Storage.InstancesFile = d.Storage.InstancesFile
	}
	if c.Storage.RulesFile == "" {
		c.Storage.RulesFile = d.Storage.RulesFile
	}
	if c.Storage.HistoryDB == "" {
		c.Storage.HistoryDB = d.Storage.HistoryDB
	}
	if c.Marketplace.RequestsPerSecond == 0 {
		c.Marketplace.RequestsPerSecond = d.Marketplace.RequestsPerSecond
	}
	if c.Marketplace.MaxRetries == 0 {
		c.Marketplace.MaxRetries = d.Marketplace.MaxRetries
	}
	if c.Marketplace.TimeoutSeconds == 0 {
		c.Marketplace.TimeoutSeconds = d.Marketplace.TimeoutSeconds
	}
	if c.Defaults.APIURL == "" {
		c.Defaults.APIURL = d.Defaults.APIURL
	}
	if c.Defaults.GameID == "" {
		c.Defaults.GameID = d.Defaults.GameID
	}
	if c.Defaults.Currency == "" {
		c.Defaults.Currency = d.Defaults.Currency
	}
	if c.Defaults.CheckInterval == 0 {
		c.Defaults.CheckInterval = d.Defaults.CheckInterval
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = d.Telemetry.MetricsPort
	}
}

// DefaultConfig returns the built-in configuration
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Storage: StorageConfig{
			DataDir:       "data",
			InstancesFile: "instances.json",
			RulesFile:     "price_rules.json",
			HistoryDB:     "history.db",
		},
		Marketplace: MarketplaceConfig{
			RequestsPerSecond: 5,
			MaxRetries:        5,
			TimeoutSeconds:    30,
		},
		Defaults: DefaultsConfig{
			APIURL:        "https://api.dmarket.com",
			GameID:        "a8db",
			Currency:      "USD",
			CheckInterval: 960,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Package config loads and validates the bridge configuration from a
// TOML file, with secrets supplied through the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var hexAddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Environment variables carrying secrets. Secrets never live in the
// TOML file.
const (
	EnvGitHubToken = "BRIDGE_GITHUB_TOKEN"
	EnvPrivateKey  = "BRIDGE_ORACLE_PRIVATE_KEY"
)

// Config provides all configuration for the bridge.
type Config struct {
	// Chain is the ledger connection configuration.
	Chain ChainConfig `toml:"Chain"`
	// GitHub is the verification service configuration.
	GitHub GitHubConfig `toml:"GitHub"`
	// Processor is the claim processor configuration.
	Processor ProcessorConfig `toml:"Processor"`
	// API is the operational HTTP endpoint configuration.
	API APIConfig `toml:"API"`
	// Monitoring selects the metrics backend.
	Monitoring MonitoringConfig `toml:"Monitoring"`
}

// ChainConfig is the ledger connection configuration.
type ChainConfig struct {
	// RPCURL is the websocket or http endpoint of the chain node.
	RPCURL string `toml:"RPCURL"`
	// ChainID for EIP-155 signing.
	ChainID int64 `toml:"ChainID"`
	// ContractAddress is the bridge contract, hex encoded.
	ContractAddress string `toml:"ContractAddress"`
	// PrivateKey is loaded from the environment, never from TOML.
	PrivateKey string `toml:"-"`
	// PollIntervalSeconds between event log queries.
	PollIntervalSeconds int64 `toml:"PollIntervalSeconds"`
	// GasLimit for confirmation transactions.
	GasLimit uint64 `toml:"GasLimit"`
	// CheckpointDir holds the poll position file.
	CheckpointDir string `toml:"CheckpointDir"`
}

// GitHubConfig is the verification service configuration.
type GitHubConfig struct {
	// Endpoint is the GraphQL endpoint URL.
	Endpoint string `toml:"Endpoint"`
	// Token is loaded from the environment, never from TOML.
	Token string `toml:"-"`
	// RequestTimeoutSeconds bounds each query.
	RequestTimeoutSeconds int64 `toml:"RequestTimeoutSeconds"`
}

// ProcessorConfig is the claim processor configuration.
type ProcessorConfig struct {
	// Workers is the claim worker pool size.
	Workers int `toml:"Workers"`
	// MaxRetries per retryable operation.
	MaxRetries int `toml:"MaxRetries"`
	// RetryBaseDelaySeconds is the first backoff step.
	RetryBaseDelaySeconds int64 `toml:"RetryBaseDelaySeconds"`
	// RetryMaxDelaySeconds caps the backoff.
	RetryMaxDelaySeconds int64 `toml:"RetryMaxDelaySeconds"`
	// DedupTTLMinutes is how long claim keys are remembered.
	DedupTTLMinutes int64 `toml:"DedupTTLMinutes"`
	// MergeRecencyWindowHours rejects stale pull request merges.
	MergeRecencyWindowHours int64 `toml:"MergeRecencyWindowHours"`
	// ShutdownGraceSeconds bounds draining on shutdown.
	ShutdownGraceSeconds int64 `toml:"ShutdownGraceSeconds"`
}

// APIConfig is the operational HTTP endpoint configuration.
type APIConfig struct {
	// Address the server listens on.
	Address string `toml:"Address"`
}

// MonitoringConfig selects the metrics backend.
type MonitoringConfig struct {
	// Enabled enables the monitoring system.
	Enabled bool `toml:"Enabled"`
	// Type is the type of monitoring system to use (beholder, noop).
	Type string `toml:"Type"`
	// OtelExporterGRPCEndpoint for the beholder client.
	OtelExporterGRPCEndpoint string `toml:"OtelExporterGRPCEndpoint"`
	// InsecureConnection disables TLS for the beholder client.
	InsecureConnection bool `toml:"InsecureConnection"`
}

// Load reads the configuration file, applies defaults, merges secrets
// from the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.LoadFromEnvironment(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults sets default values for the configuration.
func (c *Config) SetDefaults() {
	if c.Chain.PollIntervalSeconds == 0 {
		c.Chain.PollIntervalSeconds = 3
	}
	if c.Chain.GasLimit == 0 {
		c.Chain.GasLimit = 500_000
	}
	if c.Chain.CheckpointDir == "" {
		c.Chain.CheckpointDir = "."
	}
	if c.GitHub.Endpoint == "" {
		c.GitHub.Endpoint = "https://api.github.com/graphql"
	}
	if c.GitHub.RequestTimeoutSeconds == 0 {
		c.GitHub.RequestTimeoutSeconds = 10
	}
	if c.Processor.Workers == 0 {
		c.Processor.Workers = 8
	}
	if c.Processor.MaxRetries == 0 {
		c.Processor.MaxRetries = 5
	}
	if c.Processor.RetryBaseDelaySeconds == 0 {
		c.Processor.RetryBaseDelaySeconds = 1
	}
	if c.Processor.RetryMaxDelaySeconds == 0 {
		c.Processor.RetryMaxDelaySeconds = 30
	}
	if c.Processor.DedupTTLMinutes == 0 {
		c.Processor.DedupTTLMinutes = 60
	}
	if c.Processor.MergeRecencyWindowHours == 0 {
		c.Processor.MergeRecencyWindowHours = 72
	}
	if c.Processor.ShutdownGraceSeconds == 0 {
		c.Processor.ShutdownGraceSeconds = 30
	}
	if c.API.Address == "" {
		c.API.Address = ":8100"
	}
	if c.Monitoring.Type == "" {
		c.Monitoring.Type = "noop"
	}
}

// LoadFromEnvironment merges secrets into the configuration.
func (c *Config) LoadFromEnvironment() error {
	token := os.Getenv(EnvGitHubToken)
	if token == "" {
		return fmt.Errorf("%s environment variable is required", EnvGitHubToken)
	}
	c.GitHub.Token = token

	key := os.Getenv(EnvPrivateKey)
	if key == "" {
		return fmt.Errorf("%s environment variable is required", EnvPrivateKey)
	}
	c.Chain.PrivateKey = key
	return nil
}

// Validate validates the configuration for integrity and correctness.
func (c *Config) Validate() error {
	if err := c.validateChain(); err != nil {
		return fmt.Errorf("chain configuration error: %w", err)
	}
	if err := c.validateGitHub(); err != nil {
		return fmt.Errorf("github configuration error: %w", err)
	}
	if err := c.validateProcessor(); err != nil {
		return fmt.Errorf("processor configuration error: %w", err)
	}
	if c.Monitoring.Enabled && c.Monitoring.Type == "beholder" && c.Monitoring.OtelExporterGRPCEndpoint == "" {
		return errors.New("monitoring configuration error: beholder requires an exporter endpoint")
	}
	return nil
}

func (c *Config) validateChain() error {
	return validation.ValidateStruct(&c.Chain,
		validation.Field(&c.Chain.RPCURL, validation.Required, is.RequestURL),
		validation.Field(&c.Chain.ChainID, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.Chain.ContractAddress, validation.Required, validation.Match(hexAddressPattern)),
		validation.Field(&c.Chain.PollIntervalSeconds, validation.Min(int64(1))),
	)
}

func (c *Config) validateGitHub() error {
	return validation.ValidateStruct(&c.GitHub,
		validation.Field(&c.GitHub.Endpoint, validation.Required, is.RequestURL),
		validation.Field(&c.GitHub.RequestTimeoutSeconds, validation.Min(int64(1))),
	)
}

func (c *Config) validateProcessor() error {
	return validation.ValidateStruct(&c.Processor,
		validation.Field(&c.Processor.Workers, validation.Min(1), validation.Max(256)),
		validation.Field(&c.Processor.MaxRetries, validation.Min(0), validation.Max(20)),
		validation.Field(&c.Processor.RetryBaseDelaySeconds, validation.Min(int64(1))),
		validation.Field(&c.Processor.RetryMaxDelaySeconds, validation.Min(c.Processor.RetryBaseDelaySeconds)),
	)
}

// PollInterval returns the listener poll interval.
func (c *ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// RequestTimeout returns the per-query timeout.
func (c *GitHubConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the first backoff step.
func (c *ProcessorConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds) * time.Second
}

// RetryMaxDelay returns the backoff cap.
func (c *ProcessorConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}

// DedupTTL returns how long claim keys are remembered.
func (c *ProcessorConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLMinutes) * time.Minute
}

// MergeRecencyWindow returns the pull request staleness bound.
func (c *ProcessorConfig) MergeRecencyWindow() time.Duration {
	return time.Duration(c.MergeRecencyWindowHours) * time.Hour
}

// ShutdownGrace returns the drain bound on shutdown.
func (c *ProcessorConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// config.go - Configuration management for the pool service
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"shieldpool/internal/logx"
	"shieldpool/internal/shielded"
)

// Config represents the service configuration
type Config struct {
	// Network
	ListenAddr     string `yaml:"listen_addr"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`

	// File paths
	StatePath string `yaml:"state_path"`
	KeyDir    string `yaml:"key_dir"`

	// Base ledger
	CustodyAddress string           `yaml:"custody_address"`
	Genesis        []GenesisAccount `yaml:"genesis"`

	// Proofs
	EnableProver      bool `yaml:"enable_prover"`
	VerifierCacheSize int  `yaml:"verifier_cache_size"`

	Log       LogConfig       `yaml:"log"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// GenesisAccount is a base ledger allocation made at startup.
type GenesisAccount struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	AuditFile  string `yaml:"audit_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	MaxClients        int `yaml:"max_clients"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:        "127.0.0.1:8080",
		TimeoutSeconds:    30,
		StatePath:         "data/state",
		KeyDir:            "keys",
		EnableProver:      true,
		VerifierCacheSize: 1024,
		Log: LogConfig{
			Level:      "info",
			File:       "logs/poold.log",
			AuditFile:  "logs/audit.log",
			MaxSizeMB:  100,
			MaxAgeDays: 30,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
			MaxClients:        10_000,
		},
	}
}

// LoadConfig loads configuration from file or creates the default one
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		config := DefaultConfig()
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		return config, nil
	}

	config := DefaultConfig()
	if err := SaveConfig(config, configPath); err != nil {
		return nil, fmt.Errorf("failed to save default config: %w", err)
	}
	return config, nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	raw, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, raw, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if c.StatePath == "" {
		return fmt.Errorf("state_path must be set")
	}
	if c.KeyDir == "" {
		return fmt.Errorf("key_dir must be set")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if c.VerifierCacheSize < 0 {
		return fmt.Errorf("verifier_cache_size must not be negative")
	}
	if c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0 || c.RateLimit.MaxClients <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	if _, err := logx.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := shielded.ParseAddress(c.CustodyAddress); err != nil {
		return fmt.Errorf("custody_address: %w", err)
	}
	for i, g := range c.Genesis {
		if _, err := shielded.ParseAddress(g.Address); err != nil {
			return fmt.Errorf("genesis[%d].address: %w", i, err)
		}
		if g.Amount == 0 {
			return fmt.Errorf("genesis[%d].amount must be positive", i)
		}
	}
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ProvingKeyPath and VerifyingKeyPath locate the Groth16 keys of the transfer circuit.
func (c *Config) ProvingKeyPath() string {
	return filepath.Join(c.KeyDir, "transfer.pk")
}

func (c *Config) VerifyingKeyPath() string {
	return filepath.Join(c.KeyDir, "transfer.vk")
}

// LoggerOptions converts the log section for logx.New.
func (c *Config) LoggerOptions() logx.Options {
	return logx.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		AuditFile:  c.Log.AuditFile,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

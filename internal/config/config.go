// Package config loads node and simulation settings from defaults, an optional config file,
// ZKCHAIN_* environment variables and command-line flags, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// EnvPrefix is the prefix of environment variables that override settings.
const EnvPrefix = "ZKCHAIN"

// Oracle names.
const (
	OracleSimulated = "simulated"
	OracleGroth16   = "groth16"
)

// Participant roles.
const (
	RoleClient = "client"
	RoleMiner  = "miner"
)

// Config represents the application configuration
type Config struct {
	// Chain policy
	PowLeadingZeroes  uint   `mapstructure:"pow_leading_zeroes"`
	CoinbaseAmount    int    `mapstructure:"coinbase_amount"`
	ConfirmationDepth uint64 `mapstructure:"confirmation_depth"`
	InitialCoins      int    `mapstructure:"initial_coins"`

	// Proof system
	Oracle       string `mapstructure:"oracle"`
	OracleSecret string `mapstructure:"oracle_secret"`
	KeyDir       string `mapstructure:"key_dir"`

	// Mining
	MiningRounds int `mapstructure:"mining_rounds"`

	// Storage
	DataDir     string `mapstructure:"data_dir"`
	LedgerPath  string `mapstructure:"ledger_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`

	// Logging
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	EnableAudit  bool   `mapstructure:"enable_audit"`
	AuditLogPath string `mapstructure:"audit_log_path"`

	// Network (serve mode)
	Name          string            `mapstructure:"name"`
	Role          string            `mapstructure:"role"`
	Listen        string            `mapstructure:"listen"`
	MetricsListen string            `mapstructure:"metrics_listen"`
	Peers         map[string]string `mapstructure:"peers"`
	GenesisPath   string            `mapstructure:"genesis_path"`
	RateLimit     int               `mapstructure:"rate_limit"`
	TimeoutSecs   int               `mapstructure:"timeout_seconds"`

	// Simulation
	SimulationSteps int `mapstructure:"simulation_steps"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		PowLeadingZeroes:  12,
		CoinbaseAmount:    1,
		ConfirmationDepth: 6,
		InitialCoins:      4,
		Oracle:            OracleSimulated,
		KeyDir:            "keys",
		MiningRounds:      2000,
		DataDir:           "data",
		LedgerPath:        "ledger.json",
		LogLevel:          "info",
		EnableAudit:       false,
		AuditLogPath:      "audit.log",
		Name:              "node",
		Role:              RoleMiner,
		Listen:            ":9000",
		MetricsListen:     ":9100",
		Peers:             map[string]string{},
		GenesisPath:       "genesis.json",
		RateLimit:         50,
		TimeoutSecs:       10,
		SimulationSteps:   20000,
	}
}

// settings flattens the config into viper keys.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"pow_leading_zeroes": c.PowLeadingZeroes,
		"coinbase_amount":    c.CoinbaseAmount,
		"confirmation_depth": c.ConfirmationDepth,
		"initial_coins":      c.InitialCoins,
		"oracle":             c.Oracle,
		"oracle_secret":      c.OracleSecret,
		"key_dir":            c.KeyDir,
		"mining_rounds":      c.MiningRounds,
		"data_dir":           c.DataDir,
		"ledger_path":        c.LedgerPath,
		"postgres_dsn":       c.PostgresDSN,
		"log_level":          c.LogLevel,
		"log_file":           c.LogFile,
		"enable_audit":       c.EnableAudit,
		"audit_log_path":     c.AuditLogPath,
		"name":               c.Name,
		"role":               c.Role,
		"listen":             c.Listen,
		"metrics_listen":     c.MetricsListen,
		"peers":              c.Peers,
		"genesis_path":       c.GenesisPath,
		"rate_limit":         c.RateLimit,
		"timeout_seconds":    c.TimeoutSecs,
		"simulation_steps":   c.SimulationSteps,
	}
}

// SetDefaults registers the default configuration on v and binds environment overrides.
func SetDefaults(v *viper.Viper) {
	for k, val := range DefaultConfig().settings() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load reads configPath (if non-empty) into v and decodes the merged settings.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Peers == nil {
		cfg.Peers = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to configPath. The format follows the file extension.
func (c *Config) Save(configPath string) error {
	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	v := viper.New()
	for k, val := range c.settings() {
		v.Set(k, val)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.PowLeadingZeroes > 64 {
		return fmt.Errorf("pow_leading_zeroes must be at most 64, got %d", c.PowLeadingZeroes)
	}
	if c.CoinbaseAmount < 0 {
		return fmt.Errorf("coinbase_amount must not be negative")
	}
	if c.InitialCoins < 0 {
		return fmt.Errorf("initial_coins must not be negative")
	}
	if c.MiningRounds <= 0 {
		return fmt.Errorf("mining_rounds must be positive")
	}
	switch c.Oracle {
	case OracleSimulated, OracleGroth16:
	default:
		return fmt.Errorf("unknown oracle %q (want %s or %s)", c.Oracle, OracleSimulated, OracleGroth16)
	}
	switch c.Role {
	case RoleClient, RoleMiner:
	default:
		return fmt.Errorf("unknown role %q (want %s or %s)", c.Role, RoleClient, RoleMiner)
	}
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	return nil
}

// Timeout returns the HTTP client timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Policy derives the immutable chain policy.
func (c *Config) Policy(oracle zerocash.ProofOracle) *zerocash.Policy {
	return &zerocash.Policy{
		PowLeadingZeroes:  c.PowLeadingZeroes,
		CoinbaseAmount:    c.CoinbaseAmount,
		ConfirmationDepth: c.ConfirmationDepth,
		Oracle:            oracle,
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.MiningRounds)
	assert.Equal(t, 1, cfg.CoinbaseAmount)
	assert.NotNil(t, cfg.Peers)
	assert.Equal(t, uint(12), cfg.PowLeadingZeroes)
	assert.Equal(t, uint64(6), cfg.ConfirmationDepth)
	assert.Equal(t, OracleSimulated, cfg.Oracle)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	content := "pow_leading_zeroes: 8\nconfirmation_depth: 0\nname: minnie\npeers:\n  alice: http://localhost:9001\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("ZKCHAIN_MINING_ROUNDS", "50")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, uint(8), cfg.PowLeadingZeroes)
	assert.Equal(t, uint64(0), cfg.ConfirmationDepth)
	assert.Equal(t, "minnie", cfg.Name)
	assert.Equal(t, 50, cfg.MiningRounds)
	assert.Equal(t, "http://localhost:9001", cfg.Peers["alice"])
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Name = "mickey"
	cfg.Oracle = OracleGroth16
	path := filepath.Join(t.TempDir(), "conf", "node.json")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "mickey", loaded.Name)
	assert.Equal(t, OracleGroth16, loaded.Oracle)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"pow too large", func(c *Config) { c.PowLeadingZeroes = 65 }},
		{"no rounds", func(c *Config) { c.MiningRounds = 0 }},
		{"unknown oracle", func(c *Config) { c.Oracle = "plonk" }},
		{"unknown role", func(c *Config) { c.Role = "validator" }},
		{"empty name", func(c *Config) { c.Name = "" }},
		{"negative coinbase", func(c *Config) { c.CoinbaseAmount = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestPolicy(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.Policy(nil)
	assert.Equal(t, cfg.PowLeadingZeroes, p.PowLeadingZeroes)
	assert.Equal(t, cfg.CoinbaseAmount, p.CoinbaseAmount)
	assert.Equal(t, cfg.ConfirmationDepth, p.ConfirmationDepth)
}

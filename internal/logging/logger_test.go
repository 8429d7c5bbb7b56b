package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestFileAndAuditSinks(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "node.log")
	auditPath := filepath.Join(dir, "audit.log")
	var console bytes.Buffer

	l, err := New(Options{Level: "debug", File: logPath, AuditFile: auditPath, Console: &console})
	require.NoError(t, err)

	l.Debug().Msg("hash attempts")
	l.Info().Msg("block accepted")
	l.Warn().Msg("chain reorganized")
	l.Audit("started", map[string]any{"name": "minnie"})
	require.NoError(t, l.Close())

	main, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(main), "hash attempts")
	assert.Contains(t, string(main), "chain reorganized")

	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.NotContains(t, string(audit), "block accepted")
	assert.Contains(t, string(audit), "chain reorganized")
	assert.Contains(t, string(audit), "minnie")

	assert.Contains(t, console.String(), "block accepted")
}

func TestLevelFilter(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Level: "warn", Console: &console})
	require.NoError(t, err)
	l.Info().Msg("quiet")
	l.Error().Msg("loud")
	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")
	assert.NoError(t, l.Close())
}

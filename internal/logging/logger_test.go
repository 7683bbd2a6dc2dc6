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

func TestAuditFileOnlyGetsWarnings(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "ledger.log")
	auditPath := filepath.Join(dir, "audit.log")
	var console bytes.Buffer

	l, err := New(Options{Level: "debug", File: logPath, AuditFile: auditPath, Console: &console, NoColor: true})
	require.NoError(t, err)

	l.Info().Msg("routine")
	Audit(l.Logger, "double_spend", map[string]interface{}{"block": 3})
	require.NoError(t, l.Close())

	all, err := os.ReadFile(logPath)
	require.NoError(t, err)
	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)

	assert.Contains(t, string(all), "routine")
	assert.Contains(t, string(all), "double_spend")
	assert.NotContains(t, string(audit), "routine")
	assert.Contains(t, string(audit), "double_spend")
	assert.Contains(t, console.String(), "routine")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

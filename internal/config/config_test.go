package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadConfig(New(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerosync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("query_url: http://file:1\ncache_size: 7\ntimeout: 5s\n"), 0o600))
	t.Setenv("ZEROSYNC_CACHE_SIZE", "9")

	v := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("query-url", "", "")
	require.NoError(t, BindFlags(v, flags))
	require.NoError(t, flags.Parse([]string{"--query-url", "http://flag:2"}))

	cfg, err := LoadConfig(v, path)
	require.NoError(t, err)
	assert.Equal(t, "http://flag:2", cfg.QueryURL)
	assert.Equal(t, 9, cfg.CacheSize)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueryURL = "ftp://nope"
	cfg.CacheSize = 0
	cfg.Timeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 3)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "zerosync.json")
	v := New()
	v.Set("bulletin_url", "http://bulletin:3")
	require.NoError(t, SaveConfig(v, path))

	cfg, err := LoadConfig(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "http://bulletin:3", cfg.BulletinURL)
}

func TestValidateRejectsNonPositiveRetryBase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBase = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry_base must be positive")
}

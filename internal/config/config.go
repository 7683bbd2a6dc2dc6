// config.go - Configuration management for the ledger daemon and wallet.
//
// Values come, in increasing precedence, from defaults, an optional config file, ZEROSYNC_*
// environment variables and bound command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ZEROSYNC_QUERY_URL.
const EnvPrefix = "ZEROSYNC"

// Config represents the application configuration
type Config struct {
	// Server settings
	ListenAddr string   `mapstructure:"listen_addr"`
	RateLimit  int      `mapstructure:"rate_limit"`
	RateBurst  int      `mapstructure:"rate_burst"`
	Genesis    []string `mapstructure:"genesis_records"` // HASH~ tagged record commitments

	// Remote services
	QueryURL     string `mapstructure:"query_url"`
	ValidatorURL string `mapstructure:"validator_url"`
	BulletinURL  string `mapstructure:"bulletin_url"`

	// File paths
	StoragePath string `mapstructure:"storage_path"`
	KeyDir      string `mapstructure:"key_dir"`

	// Logging
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
	AuditLogPath string `mapstructure:"audit_log_path"`

	// Performance
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`

	// Resubscription
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMaxAttempts uint64        `mapstructure:"retry_max_attempts"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:       "127.0.0.1:50000",
		RateLimit:        20,
		RateBurst:        40,
		QueryURL:         "http://127.0.0.1:50000",
		ValidatorURL:     "http://127.0.0.1:50000",
		BulletinURL:      "http://127.0.0.1:50000",
		StoragePath:      "wallet.db",
		KeyDir:           "keys",
		LogLevel:         "info",
		LogFile:          "",
		AuditLogPath:     "",
		Timeout:          30 * time.Second,
		CacheSize:        1024,
		RetryBase:        500 * time.Millisecond,
		RetryMaxAttempts: 8,
	}
}

// New returns a viper instance with defaults and env overrides registered.
func New() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("rate_limit", d.RateLimit)
	v.SetDefault("rate_burst", d.RateBurst)
	v.SetDefault("query_url", d.QueryURL)
	v.SetDefault("validator_url", d.ValidatorURL)
	v.SetDefault("bulletin_url", d.BulletinURL)
	v.SetDefault("storage_path", d.StoragePath)
	v.SetDefault("key_dir", d.KeyDir)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("audit_log_path", d.AuditLogPath)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("retry_base", d.RetryBase)
	v.SetDefault("retry_max_attempts", d.RetryMaxAttempts)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// no default, so the env var has to be bound explicitly
	_ = v.BindEnv("genesis_records")
	return v
}

// BindFlags binds command line flags to config keys. Flag names use dashes in place of
// underscores, e.g. --query-url for query_url.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var result *multierror.Error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			result = multierror.Append(result, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return result.ErrorOrNil()
}

// LoadConfig reads configPath (if non-empty) into v and decodes the result.
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the current settings of v to configPath. The extension picks the format.
func SaveConfig(v *viper.Viper, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.ListenAddr == "" {
		result = multierror.Append(result, errors.New("listen_addr must be set"))
	}
	for name, raw := range map[string]string{
		"query_url":     c.QueryURL,
		"validator_url": c.ValidatorURL,
		"bulletin_url":  c.BulletinURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			result = multierror.Append(result, fmt.Errorf("%s must be an http(s) URL, got %q", name, raw))
		}
	}
	if c.StoragePath == "" {
		result = multierror.Append(result, errors.New("storage_path must be set"))
	}
	if c.Timeout <= 0 {
		result = multierror.Append(result, errors.New("timeout must be positive"))
	}
	if c.CacheSize <= 0 {
		result = multierror.Append(result, errors.New("cache_size must be positive"))
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		result = multierror.Append(result, errors.New("rate_limit and rate_burst must be positive"))
	}
	if c.RetryBase <= 0 {
		result = multierror.Append(result, errors.New("retry_base must be positive"))
	}
	return result.ErrorOrNil()
}

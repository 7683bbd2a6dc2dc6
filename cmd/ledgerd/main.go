// main.go - Entry point of the ledger daemon and wallet command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"zerosync/internal/config"
	"zerosync/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// app carries what every subcommand needs once flags and config are resolved.
type app struct {
	viper      *viper.Viper
	configPath string
	cfg        *config.Config
	log        *logging.Logger
}

func main() {
	if err := newRootCmd(&app{viper: config.New()}).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerd",
		Short: "Ledger authority and light wallet for the zerocash ledger",
		Long: `ledgerd serves the query, validator and bulletin routes of a ledger authority, and
drives a wallet that bootstraps from a sparse snapshot and follows the event stream.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Flags())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.log != nil {
				return a.log.Close()
			}
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	d := config.DefaultConfig()
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path of a config file (json, yaml or toml)")
	flags.String("log-level", d.LogLevel, "Log level: debug, info, warn or error")
	flags.String("log-file", d.LogFile, "Also write JSON logs to this file")
	flags.String("audit-log-path", d.AuditLogPath, "Write WARN and above to this audit file")
	flags.String("query-url", d.QueryURL, "Base URL of the query service")
	flags.String("validator-url", d.ValidatorURL, "Base URL of the validator")
	flags.String("bulletin-url", d.BulletinURL, "Base URL of the memo bulletin")
	flags.String("storage-path", d.StoragePath, "LevelDB directory of the wallet")
	flags.String("key-dir", d.KeyDir, "Directory caching preprocessed proving keys")
	flags.Duration("timeout", d.Timeout, "Request timeout")
	flags.Int("cache-size", d.CacheSize, "Entries of the client snapshot and proof caches")

	root.AddCommand(newServeCmd(a), newWalletCmd(a), newQueryCmd(a), newConfigCmd(a))
	return root
}

// setup resolves the configuration of cmd and opens the logger.
func (a *app) setup(flags *pflag.FlagSet) error {
	if err := config.BindFlags(a.viper, flags); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(a.viper, a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		File:      cfg.LogFile,
		AuditFile: cfg.AuditLogPath,
		Console:   os.Stderr,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(a.cfg)
		},
	}, &cobra.Command{
		Use:   "save <path>",
		Short: "Write the effective configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SaveConfig(a.viper, args[0]); err != nil {
				return err
			}
			a.log.Info().Str("path", args[0]).Msg("configuration saved")
			return nil
		},
	})
	return cmd
}

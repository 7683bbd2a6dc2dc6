// wallet.go - Wallet subcommands: bootstrap, sync and nullifier checks.
package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"zerosync/internal/api"
	"zerosync/internal/config"
	"zerosync/internal/logging"
	"zerosync/internal/storage"
	"zerosync/internal/wallet"
	"zerosync/internal/zerocash"
)

func newWalletCmd(a *app) *cobra.Command {
	d := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Bootstrap and synchronize a wallet against the ledger services",
	}
	cmd.PersistentFlags().Duration("retry-base", d.RetryBase, "First delay before resubscribing")
	cmd.PersistentFlags().Uint64("retry-max-attempts", d.RetryMaxAttempts, "Resubscriptions before sync gives up")

	bootstrap := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create a wallet from the ledger's genesis snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withWallet(a, func(backend *wallet.NetworkBackend, st *wallet.LevelDBStorage) error {
				pre := &zerocash.Groth16Preprocessor{KeyDir: a.cfg.KeyDir, Log: a.log.Logger}
				w, err := wallet.Bootstrap(ctx, a.log.Logger, nil, backend, st, pre)
				if err != nil {
					return err
				}
				return printJSON(status(w))
			})
		},
	}

	var until uint64
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Apply ledger events from the stored cursor, resubscribing on transport failures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withWallet(a, func(backend *wallet.NetworkBackend, st *wallet.LevelDBStorage) error {
				w, err := wallet.Open(a.log.Logger, nil, backend, st)
				if err != nil {
					return err
				}
				if err := syncWithRetry(ctx, a, w, until); err != nil {
					return err
				}
				return printJSON(status(w))
			})
		},
	}
	sync.Flags().Uint64Var(&until, "until", 0, "Stop once this many events are applied (0 follows the stream)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored wallet position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWallet(a, func(backend *wallet.NetworkBackend, st *wallet.LevelDBStorage) error {
				w, err := wallet.Open(a.log.Logger, nil, backend, st)
				if err != nil {
					return err
				}
				return printJSON(status(w))
			})
		},
	}

	checkNullifier := &cobra.Command{
		Use:   "check-nullifier <NUL~...>",
		Short: "Report whether a nullifier is spent at the wallet's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nf, err := api.ParseNullifier(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return withWallet(a, func(backend *wallet.NetworkBackend, st *wallet.LevelDBStorage) error {
				w, err := wallet.Open(a.log.Logger, nil, backend, st)
				if err != nil {
					return err
				}
				spent, err := w.CheckNullifier(ctx, nf)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"nullifier": nf, "spent": spent, "block_height": w.Validator().BlockHeight})
			})
		},
	}

	cmd.AddCommand(bootstrap, sync, statusCmd, checkNullifier)
	return cmd
}

// walletStatus is what the wallet commands print on success.
type walletStatus struct {
	Now             uint64                     `json:"now"`
	Cursor          uint64                     `json:"cursor"`
	BlockHeight     uint64                     `json:"block_height"`
	StateCommitment api.Hash                   `json:"state_commitment"`
	LeafToForget    *uint64                    `json:"leaf_to_forget,omitempty"`
	Pending         []wallet.PendingSubmission `json:"pending"`
}

func status(w *wallet.Wallet) walletStatus {
	v := w.Validator()
	s := walletStatus{
		Now:             w.Now(),
		Cursor:          w.Cursor(),
		BlockHeight:     v.BlockHeight,
		StateCommitment: v.Commit(),
		Pending:         w.Pending(),
	}
	if leaf, ok := w.LeafToForget(); ok {
		s.LeafToForget = &leaf
	}
	return s
}

// withWallet opens the network backend and the wallet's LevelDB store around fn.
func withWallet(a *app, fn func(*wallet.NetworkBackend, *wallet.LevelDBStorage) error) error {
	backend, err := newBackend(a)
	if err != nil {
		return err
	}
	store, err := storage.Open(a.cfg.StoragePath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(backend, wallet.NewLevelDBStorage(store))
}

func newBackend(a *app) (*wallet.NetworkBackend, error) {
	return wallet.NewNetworkBackend(a.log.Logger, nil, wallet.NetworkOptions{
		QueryURL:     a.cfg.QueryURL,
		ValidatorURL: a.cfg.ValidatorURL,
		BulletinURL:  a.cfg.BulletinURL,
		Timeout:      a.cfg.Timeout,
		CacheSize:    a.cfg.CacheSize,
	})
}

// syncWithRetry runs the wallet's sync loop and resubscribes with exponential backoff after
// transport failures. Every attempt resumes from the persisted cursor. Other errors end the
// sync, and so does a cancelled ctx, which is not reported as a failure.
func syncWithRetry(ctx context.Context, a *app, w *wallet.Wallet, until uint64) error {
	log := logging.Component(a.log.Logger, "sync")
	if a.cfg.RetryBase <= 0 {
		return fmt.Errorf("retry base must be positive, got %s", a.cfg.RetryBase)
	}
	backoff := retry.WithMaxRetries(a.cfg.RetryMaxAttempts, retry.NewExponential(a.cfg.RetryBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		if until > 0 {
			err = w.SyncTo(ctx, until)
		} else {
			err = w.Sync(ctx)
		}
		if errors.Is(err, api.ErrTransport) {
			log.Warn().Err(err).Uint64("cursor", w.Cursor()).Msg("event stream failed, resubscribing")
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, context.Canceled) {
		log.Info().Uint64("cursor", w.Cursor()).Msg("sync stopped")
		return nil
	}
	return err
}

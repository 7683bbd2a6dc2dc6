// serve.go - Runs a ledger authority behind the HTTP routes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"zerosync/internal/api"
	"zerosync/internal/config"
	"zerosync/internal/logging"
	"zerosync/internal/metrics"
	"zerosync/internal/node"
	"zerosync/internal/server"
	"zerosync/internal/zerocash"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	d := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query, validator and bulletin routes of an in-memory ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, a)
		},
	}
	cmd.Flags().String("listen-addr", d.ListenAddr, "Address to listen on")
	cmd.Flags().Int("rate-limit", d.RateLimit, "Requests per second per client on POST routes")
	cmd.Flags().Int("rate-burst", d.RateBurst, "Burst size of the POST rate limit")
	cmd.Flags().StringSlice("genesis-records", nil, "HASH~ record commitments of the genesis block")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.log.Logger
	cfg := a.cfg

	// Step 1: genesis records
	genesis := make([]api.Hash, 0, len(cfg.Genesis))
	for _, s := range cfg.Genesis {
		h, err := api.ParseHash(s)
		if err != nil {
			return fmt.Errorf("genesis record %q: %w", s, err)
		}
		genesis = append(genesis, h)
	}

	// Step 2: ledger authority
	m := metrics.NewCollector()
	n, err := node.New(log, m, zerocash.DefaultVerifierKeys(), genesis)
	if err != nil {
		return fmt.Errorf("failed to start ledger: %w", err)
	}

	// Step 3: HTTP surface
	srv := server.New(log, m, n, n, n, server.Options{
		ListenAddr: cfg.ListenAddr,
		RateLimit:  float64(cfg.RateLimit),
		RateBurst:  cfg.RateBurst,
		Version:    Version,
	})
	srv.Health().RegisterComponent("ledger", func(context.Context) error { return n.Check() })
	httpServer, err := srv.NewHTTPServer()
	if err != nil {
		return err
	}

	logging.Audit(log, "server_started", map[string]interface{}{
		"listen_addr":     cfg.ListenAddr,
		"genesis_records": len(genesis),
		"version":         Version,
	})

	// Step 4: serve until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	err = g.Wait()
	logging.Audit(log, "server_stopped", map[string]interface{}{"error": fmt.Sprint(err)})
	return err
}

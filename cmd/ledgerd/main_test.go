package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zerosync/internal/api"
	"zerosync/internal/config"
	"zerosync/internal/logging"
	"zerosync/internal/node"
	"zerosync/internal/query"
	"zerosync/internal/server"
	"zerosync/internal/setmerkle"
	"zerosync/internal/storage"
	"zerosync/internal/wallet"
	"zerosync/internal/zerocash"
)

func TestBlockSpec(t *testing.T) {
	h := api.HashBytes([]byte("block"))
	one := uint64(1)

	spec, err := blockSpec("", "", "")
	require.NoError(t, err)
	assert.Equal(t, query.Latest(), spec)

	spec, err = blockSpec("1", "", "")
	require.NoError(t, err)
	assert.Equal(t, &one, spec.Index)

	spec, err = blockSpec("", "", h.String())
	require.NoError(t, err)
	require.NotNil(t, spec.Hash)
	assert.Equal(t, h, *spec.Hash)

	_, err = blockSpec("1", "", h.String())
	assert.EqualError(t, err, "at most one of --index, --id and --hash may be given")

	_, err = blockSpec("", h.String(), "")
	assert.Error(t, err)
}

func TestFlagsAndEnvironmentOverrideDefaults(t *testing.T) {
	t.Setenv("ZEROSYNC_CACHE_SIZE", "7")
	a := &app{viper: config.New()}
	root := newRootCmd(a)
	root.SetArgs([]string{"config", "show", "--query-url", "http://example.com:9", "--log-level", "warn"})
	require.NoError(t, root.Execute())

	require.NotNil(t, a.cfg)
	assert.Equal(t, "http://example.com:9", a.cfg.QueryURL)
	assert.Equal(t, "warn", a.cfg.LogLevel)
	assert.Equal(t, 7, a.cfg.CacheSize)
	assert.Equal(t, config.DefaultConfig().ValidatorURL, a.cfg.ValidatorURL)
}

func TestInvalidConfigIsRejected(t *testing.T) {
	root := newRootCmd(&app{viper: config.New()})
	root.SetArgs([]string{"config", "show", "--timeout", "0s"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout must be positive")
}

type keyStub struct{}

func (keyStub) Preprocess(ctx context.Context, vk zerocash.VerifierKey) (zerocash.ProvingKey, error) {
	return zerocash.ProvingKey{Kind: vk.Kind, Arity: vk.Arity}, nil
}

// testWallet bootstraps a wallet against a fresh authority served over httptest.
func testWallet(t *testing.T) (*node.Node, *httptest.Server, *wallet.Wallet, *app) {
	n, err := node.New(zerolog.Nop(), nil, zerocash.DefaultVerifierKeys(), nil)
	require.NoError(t, err)
	router, err := server.New(zerolog.Nop(), nil, n, n, n, server.Options{}).NewRouter()
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.QueryURL, cfg.ValidatorURL, cfg.BulletinURL = srv.URL, srv.URL, srv.URL
	cfg.Timeout = 2 * time.Second
	cfg.RetryBase = time.Millisecond
	cfg.RetryMaxAttempts = 2
	a := &app{cfg: cfg, log: &logging.Logger{Logger: zerolog.Nop()}}

	backend, err := newBackend(a)
	require.NoError(t, err)
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	w, err := wallet.Bootstrap(context.Background(), zerolog.Nop(), nil, backend, wallet.NewLevelDBStorage(store), keyStub{})
	require.NoError(t, err)
	return n, srv, w, a
}

func commit(t *testing.T, n *node.Node) {
	ctx := context.Background()
	sk, err := zerocash.RandomElement()
	require.NoError(t, err)
	rho, err := zerocash.RandomElement()
	require.NoError(t, err)
	nf := zerocash.NullifierOf(sk, rho)
	count, err := n.NumBlocks(ctx)
	require.NoError(t, err)
	p, err := n.GetNullifierProofFor(ctx, count, nf)
	require.NoError(t, err)
	require.NoError(t, n.Submit(ctx, zerocash.ElaboratedTransaction{
		Txn: zerocash.Transaction{
			Kind:       zerocash.KindTransfer,
			Nullifiers: []api.Nullifier{nf},
			Outputs:    []api.Hash{api.HashBytes(nf[:]), api.HashBytes(append(nf[:], 1))},
		},
		Proofs: []setmerkle.Proof{p.Proof},
	}))
}

func TestSyncWithRetryReachesTarget(t *testing.T) {
	n, _, w, a := testWallet(t)
	commit(t, n)
	commit(t, n)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, syncWithRetry(ctx, a, w, 2))
	assert.Equal(t, uint64(2), w.Cursor())
	assert.Equal(t, uint64(2), status(w).BlockHeight)
}

func TestSyncWithRetryStopsCleanlyOnCancel(t *testing.T) {
	_, _, w, a := testWallet(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	assert.NoError(t, syncWithRetry(ctx, a, w, 0))
	assert.Equal(t, uint64(0), w.Cursor())
}

func TestSyncWithRetryGivesUpOnTransportErrors(t *testing.T) {
	_, srv, w, a := testWallet(t)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := syncWithRetry(ctx, a, w, 0)
	assert.ErrorIs(t, err, api.ErrTransport)
}

func TestSyncWithRetryRejectsZeroBase(t *testing.T) {
	_, _, w, a := testWallet(t)
	a.cfg.RetryBase = 0
	err := syncWithRetry(context.Background(), a, w, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry base must be positive")
}

// network.go - HTTP/WebSocket backend talking to the query, validator and bulletin services.
package wallet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"zerosync/internal/api"
	"zerosync/internal/logging"
	"zerosync/internal/metrics"
	"zerosync/internal/node"
	"zerosync/internal/query"
	"zerosync/internal/server"
	"zerosync/internal/zerocash"
)

// acceptHeader prefers CBOR but takes whatever the server can offer.
const acceptHeader = "application/cbor;q=1.0, */*;q=0.5"

// NetworkOptions configures a NetworkBackend.
type NetworkOptions struct {
	QueryURL     string
	ValidatorURL string
	BulletinURL  string
	Timeout      time.Duration
	CacheSize    int
}

// NetworkBackend implements Backend over the HTTP routes of the ledger services.
type NetworkBackend struct {
	log       zerolog.Logger
	metrics   *metrics.Collector
	client    *http.Client
	dialer    *websocket.Dialer
	query     string
	validator string
	bulletin  string

	// snapshots and proofs never change once served, so both are safe to cache
	snapshots *lru.Cache
	proofs    *lru.Cache
}

type proofKey struct {
	root api.Hash
	nf   api.Nullifier
}

// NewNetworkBackend creates a backend for the given service URLs.
func NewNetworkBackend(log zerolog.Logger, m *metrics.Collector, opts NetworkOptions) (*NetworkBackend, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 1024
	}
	snapshots, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("could not initialize snapshot cache: %w", err)
	}
	proofs, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("could not initialize proof cache: %w", err)
	}
	return &NetworkBackend{
		log:       logging.Component(log, "network"),
		metrics:   m,
		client:    &http.Client{Timeout: opts.Timeout},
		dialer:    &websocket.Dialer{HandshakeTimeout: opts.Timeout},
		query:     strings.TrimRight(opts.QueryURL, "/"),
		validator: strings.TrimRight(opts.ValidatorURL, "/"),
		bulletin:  strings.TrimRight(opts.BulletinURL, "/"),
		snapshots: snapshots,
		proofs:    proofs,
	}, nil
}

func (b *NetworkBackend) get(ctx context.Context, base, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/"+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", api.ErrRequest, path, err)
	}
	return b.do(req, v)
}

func (b *NetworkBackend) post(ctx context.Context, base, path string, body, v interface{}) error {
	raw, err := server.Encode(server.MediaCBOR, body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/"+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", api.ErrRequest, path, err)
	}
	req.Header.Set("Content-Type", server.MediaCBOR)
	return b.do(req, v)
}

// do sends req and decodes the response by its Content-Type. Error bodies are mapped back to
// the sentinel they were produced from.
func (b *NetworkBackend) do(req *http.Request, v interface{}) error {
	req.Header.Set("Accept", acceptHeader)
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", api.ErrTransport, req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", api.ErrTransport, req.URL, err)
	}
	contentType := resp.Header.Get("Content-Type")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e api.ErrorResponse
		if err := server.Decode(contentType, body, &e); err != nil || e.Kind == "" {
			return fmt.Errorf("%w: %s %s returned %s", api.ErrTransport, req.Method, req.URL, resp.Status)
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, e.Err(resp.StatusCode))
	}
	if v == nil {
		return nil
	}
	if err := server.Decode(contentType, body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", api.ErrProtocolViolation, req.URL.Path, err)
	}
	return nil
}

// Snapshot fetches the sparse snapshot before block index.
func (b *NetworkBackend) Snapshot(ctx context.Context, index uint64) (*node.LedgerSnapshot, error) {
	if cached, ok := b.snapshots.Get(index); ok {
		return copySnapshot(cached.(*node.LedgerSnapshot)), nil
	}
	var snap node.LedgerSnapshot
	if err := b.get(ctx, b.query, fmt.Sprintf("getsnapshot/%d/true", index), &snap); err != nil {
		return nil, err
	}
	if snap.Nullifiers == nil || snap.Records == nil {
		return nil, fmt.Errorf("%w: snapshot %d is missing its trees", api.ErrProtocolViolation, index)
	}
	b.snapshots.Add(index, copySnapshot(&snap))
	return &snap, nil
}

// copySnapshot keeps callers from mutating the cached trees.
func copySnapshot(s *node.LedgerSnapshot) *node.LedgerSnapshot {
	return &node.LedgerSnapshot{State: s.State, Nullifiers: s.Nullifiers.Clone(), Records: s.Records.Clone()}
}

// GetNullifierProof fetches a proof for nf against the set with the given root.
func (b *NetworkBackend) GetNullifierProof(ctx context.Context, root api.Hash, nf api.Nullifier) (node.NullifierProof, error) {
	key := proofKey{root: root, nf: nf}
	if cached, ok := b.proofs.Get(key); ok {
		return cached.(node.NullifierProof), nil
	}
	var p node.NullifierProof
	if err := b.get(ctx, b.query, fmt.Sprintf("getnullifier/%s/%s", root, nf), &p); err != nil {
		return node.NullifierProof{}, err
	}
	b.proofs.Add(key, p)
	return p, nil
}

// GetTransaction fetches a committed transaction with its proofs, uids and memos.
func (b *NetworkBackend) GetTransaction(ctx context.Context, id api.TransactionID) (*query.CommittedTransaction, error) {
	var tx query.CommittedTransaction
	if err := b.get(ctx, b.query, "gettransaction/"+id.String(), &tx); err != nil {
		return nil, err
	}
	if tx.ID != id {
		return nil, fmt.Errorf("%w: asked for %s, got %s", api.ErrProtocolViolation, id, tx.ID)
	}
	return &tx, nil
}

// GetBlock fetches a committed block; nil spec fields resolve to the latest block.
func (b *NetworkBackend) GetBlock(ctx context.Context, spec query.BlockSpec) (*query.CommittedBlock, error) {
	path := "getblock"
	switch {
	case spec.Index != nil:
		path = fmt.Sprintf("getblock/index/%d", *spec.Index)
	case spec.ID != nil:
		path = "getblock/" + spec.ID.String()
	case spec.Hash != nil:
		path = "getblock/hash/" + spec.Hash.String()
	}
	var blk query.CommittedBlock
	if err := b.get(ctx, b.query, path, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// GetUnspentRecord fetches one output of a committed transaction.
func (b *NetworkBackend) GetUnspentRecord(ctx context.Context, id api.TransactionID, output uint64) (*query.UnspentRecord, error) {
	var rec query.UnspentRecord
	if err := b.get(ctx, b.query, fmt.Sprintf("getunspentrecord/false/%s/%d", id, output), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Submit posts tx to the validator.
func (b *NetworkBackend) Submit(ctx context.Context, tx zerocash.ElaboratedTransaction) error {
	return b.post(ctx, b.validator, "submit", tx, nil)
}

// PostMemos posts signed memos for txid to the bulletin.
func (b *NetworkBackend) PostMemos(ctx context.Context, txid api.TransactionID, memos node.TxMemos) error {
	return b.post(ctx, b.bulletin, "memos/"+txid.String(), memos, nil)
}

// Subscribe opens the event stream at start.
func (b *NetworkBackend) Subscribe(ctx context.Context, start uint64) (*EventStream, error) {
	url := b.query + fmt.Sprintf("/subscribe/%d", start)
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	conn, resp, err := b.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect websocket %s: %v", api.ErrTransport, url, err)
	}
	return newEventStream(ctx, conn, b.log.With().Uint64("start", start).Logger(), b.metrics), nil
}

// EventStream is a live subscription. Events is closed when the stream ends; Err then tells a
// transport failure apart from Close.
type EventStream struct {
	events chan node.IndexedEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newEventStream(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, m *metrics.Collector) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		events: make(chan node.IndexedEvent),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go s.listen(ctx, conn, log, m)
	return s
}

func (s *EventStream) listen(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, m *metrics.Collector) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.setErr(fmt.Errorf("%w: event stream: %v", api.ErrTransport, err))
			}
			return
		}
		var ev node.IndexedEvent
		switch kind {
		case websocket.BinaryMessage:
			ev, err = node.DecodeCBOR(frame)
		case websocket.TextMessage:
			ev, err = node.DecodeJSON(frame)
		default:
			err = fmt.Errorf("unexpected frame type %d", kind)
		}
		if err != nil {
			log.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping undecodable event")
			m.EventDropped()
			continue
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *EventStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Events delivers events in order.
func (s *EventStream) Events() <-chan node.IndexedEvent {
	return s.events
}

// Err returns the transport error that ended the stream, or nil if it was closed.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes and waits for the reader to exit.
func (s *EventStream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// handlers.go - One handler per API route.
package server

import (
	"fmt"
	"html"
	"net/http"
	"sort"
	"strings"

	"zerosync/internal/node"
	"zerosync/internal/query"
	"zerosync/internal/zerocash"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request, pattern string, b Bindings)

// endpoint adapts a function returning a value to a handler that negotiates the response.
func (s *Server) endpoint(fn func(r *http.Request, b Bindings) (interface{}, error)) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, _ string, b Bindings) {
		v, err := fn(r, b)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, r, v)
	}
}

func (s *Server) handlers() map[RouteKey]handlerFunc {
	return map[RouteKey]handlerFunc{
		RouteGetBlock:                s.endpoint(s.getBlock),
		RouteGetBlockCount:           s.endpoint(s.getBlockCount),
		RouteGetBlockHash:            s.endpoint(s.getBlockHash),
		RouteGetBlockID:              s.endpoint(s.getBlockID),
		RouteGetInfo:                 s.endpoint(s.getInfo),
		RouteGetMempool:              stub,
		RouteGetTransaction:          s.endpoint(s.getTransaction),
		RouteGetUnspentRecord:        s.endpoint(s.getUnspentRecord),
		RouteGetUnspentRecordSetInfo: stub,
		RouteSubscribe: func(w http.ResponseWriter, r *http.Request, _ string, b Bindings) {
			s.subscribe(w, r, b)
		},
		RouteGetSnapshot:    s.endpoint(s.getSnapshot),
		RouteGetNullifier:   s.endpoint(s.getNullifier),
		RouteCheckNullifier: s.endpoint(s.checkNullifier),
		RouteSubmit:         s.endpoint(s.submit),
		RoutePostMemos:      s.endpoint(s.postMemos),
	}
}

// blockIndex resolves whichever block address form the route matched.
func (s *Server) blockIndex(r *http.Request, b Bindings) (uint64, error) {
	spec := query.Latest()
	switch {
	case b.Has(":index"):
		i, err := b.Index(":index")
		if err != nil {
			return 0, err
		}
		spec = query.AtIndex(i)
	case b.Has(":bkid"):
		id, err := b.BlockID(":bkid")
		if err != nil {
			return 0, err
		}
		spec = query.ByID(id)
	case b.Has(":hash"):
		h, err := b.Hash(":hash")
		if err != nil {
			return 0, err
		}
		spec = query.ByHash(h)
	}
	return s.index.ResolveBlockIndex(r.Context(), spec)
}

func (s *Server) getInfo(r *http.Request, _ Bindings) (interface{}, error) {
	return s.index.GetSummary(r.Context())
}

func (s *Server) getBlockCount(r *http.Request, _ Bindings) (interface{}, error) {
	return s.index.GetBlockCount(r.Context())
}

func (s *Server) getBlock(r *http.Request, b Bindings) (interface{}, error) {
	i, err := s.blockIndex(r, b)
	if err != nil {
		return nil, err
	}
	return s.index.GetCommittedBlock(r.Context(), i)
}

func (s *Server) getBlockHash(r *http.Request, b Bindings) (interface{}, error) {
	i, err := s.blockIndex(r, b)
	if err != nil {
		return nil, err
	}
	return s.index.GetBlockHash(r.Context(), i)
}

func (s *Server) getBlockID(r *http.Request, b Bindings) (interface{}, error) {
	i, err := s.blockIndex(r, b)
	if err != nil {
		return nil, err
	}
	return s.index.GetBlockID(r.Context(), i)
}

func (s *Server) getTransaction(r *http.Request, b Bindings) (interface{}, error) {
	id, err := b.TransactionID(":txid")
	if err != nil {
		return nil, err
	}
	return s.index.GetCommittedTransaction(r.Context(), id)
}

func (s *Server) getUnspentRecord(r *http.Request, b Bindings) (interface{}, error) {
	mempool, err := b.Bool(":mempool")
	if err != nil {
		return nil, err
	}
	id, err := b.TransactionID(":txid")
	if err != nil {
		return nil, err
	}
	output, err := b.Index(":output_index")
	if err != nil {
		return nil, err
	}
	return s.index.GetUnspentRecord(r.Context(), id, output, mempool)
}

func (s *Server) getSnapshot(r *http.Request, b Bindings) (interface{}, error) {
	i, err := b.Index(":index")
	if err != nil {
		return nil, err
	}
	sparse, err := b.Bool(":sparse")
	if err != nil {
		return nil, err
	}
	return s.svc.GetSnapshot(r.Context(), i, sparse)
}

func (s *Server) getNullifier(r *http.Request, b Bindings) (interface{}, error) {
	root, err := b.Hash(":root")
	if err != nil {
		return nil, err
	}
	nf, err := b.Nullifier(":nullifier")
	if err != nil {
		return nil, err
	}
	return s.svc.GetNullifierProof(r.Context(), root, nf)
}

func (s *Server) checkNullifier(r *http.Request, b Bindings) (interface{}, error) {
	i, err := b.Index(":block_id")
	if err != nil {
		return nil, err
	}
	nf, err := b.Nullifier(":nullifier")
	if err != nil {
		return nil, err
	}
	return s.svc.GetNullifierProofFor(r.Context(), i, nf)
}

// Accepted is the body of a successful POST.
type Accepted struct {
	Accepted bool `json:"accepted" cbor:"1,keyasint"`
}

func (s *Server) submit(r *http.Request, _ Bindings) (interface{}, error) {
	var tx zerocash.ElaboratedTransaction
	if err := readBody(r, &tx); err != nil {
		return nil, err
	}
	if err := s.validator.Submit(r.Context(), tx); err != nil {
		return nil, err
	}
	return Accepted{Accepted: true}, nil
}

func (s *Server) postMemos(r *http.Request, b Bindings) (interface{}, error) {
	txid, err := b.TransactionID(":txid")
	if err != nil {
		return nil, err
	}
	var memos node.TxMemos
	if err := readBody(r, &memos); err != nil {
		return nil, err
	}
	if err := s.bulletin.PostMemos(r.Context(), txid, memos); err != nil {
		return nil, err
	}
	return Accepted{Accepted: true}, nil
}

// stub answers routes that are not implemented yet with a page listing the route and bindings.
func stub(w http.ResponseWriter, r *http.Request, pattern string, b Bindings) {
	params := make([]string, 0, len(b))
	for name, binding := range b {
		params = append(params, fmt.Sprintf("%s = %s (%s)", name, binding.Value, binding.Value.Type))
	}
	sort.Strings(params)
	title := html.EscapeString(strings.SplitN(pattern, "/", 2)[0])
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html lang='en'>\n  <head>\n    <meta charset='utf-8'>\n    <title>%s</title>\n  </head>\n  <body>\n    <h1>%s</h1>\n    <p>%s</p>\n  </body>\n</html>\n",
		title, html.EscapeString(pattern), html.EscapeString(strings.Join(params, ", ")))
}

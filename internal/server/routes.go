// routes.go - Static route registry.
//
// Every RouteKey has exactly one Route definition and one handler; NewRouter refuses to build a
// router otherwise. Patterns use ":name" placeholders whose types are declared in Params.

package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// RouteKey names an API route.
type RouteKey int

const (
	RouteGetBlock RouteKey = iota
	RouteGetBlockCount
	RouteGetBlockHash
	RouteGetBlockID
	RouteGetInfo
	RouteGetMempool
	RouteGetTransaction
	RouteGetUnspentRecord
	RouteGetUnspentRecordSetInfo
	RouteSubscribe
	RouteGetSnapshot
	RouteGetNullifier
	RouteCheckNullifier
	RouteSubmit
	RoutePostMemos

	numRoutes
)

var routeNames = [numRoutes]string{
	RouteGetBlock:                "getblock",
	RouteGetBlockCount:           "getblockcount",
	RouteGetBlockHash:            "getblockhash",
	RouteGetBlockID:              "getblockid",
	RouteGetInfo:                 "getinfo",
	RouteGetMempool:              "getmempool",
	RouteGetTransaction:          "gettransaction",
	RouteGetUnspentRecord:        "getunspentrecord",
	RouteGetUnspentRecordSetInfo: "getunspentrecordsetinfo",
	RouteSubscribe:               "subscribe",
	RouteGetSnapshot:             "getsnapshot",
	RouteGetNullifier:            "getnullifier",
	RouteCheckNullifier:          "checknullifier",
	RouteSubmit:                  "submit",
	RoutePostMemos:               "postmemos",
}

func (k RouteKey) String() string {
	if k < 0 || k >= numRoutes {
		return fmt.Sprintf("route(%d)", int(k))
	}
	return routeNames[k]
}

// AllRoutes lists every route key.
func AllRoutes() []RouteKey {
	keys := make([]RouteKey, numRoutes)
	for i := range keys {
		keys[i] = RouteKey(i)
	}
	return keys
}

// Route declares the paths and parameter types of one route.
type Route struct {
	Key      RouteKey
	Method   string
	Patterns []string
	Params   map[string]SegmentType
}

// blockForms are the ways a block can be addressed. No parameter means latest.
func blockForms(prefix string) []string {
	return []string{prefix, prefix + "/index/:index", prefix + "/hash/:hash", prefix + "/:bkid"}
}

var blockParams = map[string]SegmentType{":index": Integer, ":hash": TaggedBase64, ":bkid": TaggedBase64}

// Routes is the API definition.
var Routes = []Route{
	{Key: RouteGetBlock, Method: http.MethodGet, Patterns: blockForms("getblock"), Params: blockParams},
	{Key: RouteGetBlockCount, Method: http.MethodGet, Patterns: []string{"getblockcount"}},
	{Key: RouteGetBlockHash, Method: http.MethodGet, Patterns: blockForms("getblockhash"), Params: blockParams},
	{Key: RouteGetBlockID, Method: http.MethodGet, Patterns: blockForms("getblockid"), Params: blockParams},
	{Key: RouteGetInfo, Method: http.MethodGet, Patterns: []string{"getinfo"}},
	{Key: RouteGetMempool, Method: http.MethodGet, Patterns: []string{"getmempool"}},
	{Key: RouteGetTransaction, Method: http.MethodGet, Patterns: []string{"gettransaction/:txid"},
		Params: map[string]SegmentType{":txid": TaggedBase64}},
	{Key: RouteGetUnspentRecord, Method: http.MethodGet, Patterns: []string{"getunspentrecord/:mempool/:txid/:output_index"},
		Params: map[string]SegmentType{":mempool": Boolean, ":txid": TaggedBase64, ":output_index": Integer}},
	{Key: RouteGetUnspentRecordSetInfo, Method: http.MethodGet, Patterns: []string{"getunspentrecordsetinfo"}},
	{Key: RouteSubscribe, Method: http.MethodGet, Patterns: []string{"subscribe/:index"},
		Params: map[string]SegmentType{":index": Integer}},
	{Key: RouteGetSnapshot, Method: http.MethodGet, Patterns: []string{"getsnapshot/:index/:sparse"},
		Params: map[string]SegmentType{":index": Integer, ":sparse": Boolean}},
	{Key: RouteGetNullifier, Method: http.MethodGet, Patterns: []string{"getnullifier/:root/:nullifier"},
		Params: map[string]SegmentType{":root": TaggedBase64, ":nullifier": TaggedBase64}},
	{Key: RouteCheckNullifier, Method: http.MethodGet, Patterns: []string{"checknullifier/:block_id/:nullifier"},
		Params: map[string]SegmentType{":block_id": Integer, ":nullifier": TaggedBase64}},
	{Key: RouteSubmit, Method: http.MethodPost, Patterns: []string{"submit"}},
	{Key: RoutePostMemos, Method: http.MethodPost, Patterns: []string{"memos/:txid"},
		Params: map[string]SegmentType{":txid": TaggedBase64}},
}

// checkRoutes verifies that routes defines every key exactly once and that every placeholder
// has a declared type.
func checkRoutes(routes []Route) error {
	var result *multierror.Error
	seen := make(map[RouteKey]bool, numRoutes)
	for _, r := range routes {
		if seen[r.Key] {
			result = multierror.Append(result, fmt.Errorf("route %s defined twice", r.Key))
		}
		seen[r.Key] = true
		for _, p := range r.Patterns {
			for _, seg := range strings.Split(p, "/") {
				if strings.HasPrefix(seg, ":") {
					if _, ok := r.Params[seg]; !ok {
						result = multierror.Append(result, fmt.Errorf("route %s: %s has no declared type", r.Key, seg))
					}
				}
			}
		}
	}
	for _, k := range AllRoutes() {
		if !seen[k] {
			result = multierror.Append(result, fmt.Errorf("missing API definition for route %s", k))
		}
	}
	return result.ErrorOrNil()
}

// muxPattern converts "getblock/:bkid" to "/getblock/{bkid}".
func muxPattern(p string) string {
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, ":") {
			segs[i] = "{" + seg[1:] + "}"
		}
	}
	return "/" + strings.Join(segs, "/")
}

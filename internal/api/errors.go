// errors.go - Error taxonomy shared by the query routes, the wallet and the network client.
//
// Every failure surfaced across a package boundary wraps one of the sentinels below, so callers
// can branch with errors.Is and the HTTP layer can pick a status code without string matching.

package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRequest              = errors.New("bad request")
	ErrMalformedAddress     = errors.New("malformed address")
	ErrInvalidBlockID       = errors.New("invalid block id")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrInvalidOutputIndex   = errors.New("invalid output index")
	ErrUnimplemented        = errors.New("unimplemented")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrProtocolViolation    = errors.New("protocol violation")
	ErrTransport            = errors.New("transport error")
	ErrInvalidProof         = errors.New("invalid nullifier proof")
	ErrArityMismatch        = errors.New("proving key arity mismatch")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrAlreadySpent         = errors.New("nullifier already spent")
	ErrNotFound             = errors.New("not found")
	ErrRootUnstable         = errors.New("nullifier root unstable")
)

type errorKind struct {
	err    error
	name   string
	status int
}

// kinds is ordered from most to least specific; the first match wins.
var kinds = []errorKind{
	{ErrMalformedAddress, "malformed_address", http.StatusBadRequest},
	{ErrInvalidBlockID, "invalid_block_id", http.StatusBadRequest},
	{ErrInvalidTransactionID, "invalid_transaction_id", http.StatusBadRequest},
	{ErrInvalidOutputIndex, "invalid_output_index", http.StatusBadRequest},
	{ErrInvalidProof, "invalid_proof", http.StatusBadRequest},
	{ErrInvalidSignature, "invalid_signature", http.StatusBadRequest},
	{ErrArityMismatch, "arity_mismatch", http.StatusBadRequest},
	{ErrAlreadySpent, "already_spent", http.StatusConflict},
	{ErrNotFound, "not_found", http.StatusNotFound},
	{ErrUnsupportedMediaType, "unsupported_media_type", http.StatusUnsupportedMediaType},
	{ErrUnimplemented, "unimplemented", http.StatusNotImplemented},
	{ErrRootUnstable, "root_unstable", http.StatusServiceUnavailable},
	{ErrProtocolViolation, "protocol_violation", http.StatusBadGateway},
	{ErrTransport, "transport", http.StatusBadGateway},
	{ErrRequest, "request", http.StatusBadRequest},
}

// ErrorResponse is the body written for every failed request.
type ErrorResponse struct {
	Kind    string `json:"kind" cbor:"kind"`
	Message string `json:"message" cbor:"message"`
}

// StatusOf maps an error to the HTTP status it should be reported with.
// Errors outside the taxonomy are internal failures.
func StatusOf(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// NewErrorResponse builds the wire form of err.
func NewErrorResponse(err error) ErrorResponse {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return ErrorResponse{Kind: k.name, Message: err.Error()}
		}
	}
	return ErrorResponse{Kind: "internal", Message: err.Error()}
}

// Err reconstructs an error from a response body so that errors.Is keeps working on the
// client side of the wire.
func (r ErrorResponse) Err(status int) error {
	for _, k := range kinds {
		if k.name == r.Kind {
			return &remoteError{sentinel: k.err, status: status, msg: r.Message}
		}
	}
	return &remoteError{sentinel: ErrTransport, status: status, msg: r.Message}
}

type remoteError struct {
	sentinel error
	status   int
	msg      string
}

func (e *remoteError) Error() string {
	return fmt.Sprintf("remote error (status %d): %s", e.status, e.msg)
}

func (e *remoteError) Unwrap() error { return e.sentinel }

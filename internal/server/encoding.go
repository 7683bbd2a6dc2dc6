// encoding.go - Content negotiation for responses and request bodies.
//
// JSON is always available and is what a wildcard gets; CBOR is served when the client asks
// for it explicitly. Anything else is refused with 415.

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"zerosync/internal/api"
)

const (
	MediaJSON = "application/json"
	MediaCBOR = "application/cbor"

	maxBodyBytes = 8 << 20
)

// Negotiate picks the response media type for an Accept header.
func Negotiate(accept string) (string, error) {
	if strings.TrimSpace(accept) == "" {
		return MediaJSON, nil
	}
	best, bestQ := "", -1.0
	for _, part := range strings.Split(accept, ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if raw, ok := params["q"]; ok {
			if q, err = strconv.ParseFloat(raw, 64); err != nil {
				continue
			}
		}
		var candidate string
		switch mt {
		case MediaJSON, MediaCBOR:
			candidate = mt
		case "*/*", "application/*":
			candidate = MediaJSON
		default:
			continue
		}
		// ties keep the earlier entry
		if q > 0 && q > bestQ {
			best, bestQ = candidate, q
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: cannot satisfy Accept %q", api.ErrUnsupportedMediaType, accept)
	}
	return best, nil
}

// Encode serializes v as mediaType.
func Encode(mediaType string, v interface{}) ([]byte, error) {
	switch mediaType {
	case MediaJSON:
		return json.Marshal(v)
	case MediaCBOR:
		return cbor.Marshal(v)
	default:
		return nil, fmt.Errorf("%w: %s", api.ErrUnsupportedMediaType, mediaType)
	}
}

// Decode parses body according to contentType. An empty content type is read as JSON.
func Decode(contentType string, body []byte, v interface{}) error {
	mt := MediaJSON
	if contentType != "" {
		parsed, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return fmt.Errorf("%w: content type %q", api.ErrUnsupportedMediaType, contentType)
		}
		mt = parsed
	}
	var err error
	switch mt {
	case MediaJSON:
		err = json.Unmarshal(body, v)
	case MediaCBOR:
		err = cbor.Unmarshal(body, v)
	default:
		return fmt.Errorf("%w: %s", api.ErrUnsupportedMediaType, mt)
	}
	if err != nil {
		return fmt.Errorf("%w: decode %s body: %w", api.ErrRequest, mt, err)
	}
	return nil
}

// readBody decodes the request body into v.
func readBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: read body: %w", api.ErrRequest, err)
	}
	return Decode(r.Header.Get("Content-Type"), body, v)
}

// respond writes v with the negotiated media type.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v interface{}) {
	mt, err := Negotiate(r.Header.Get("Accept"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body, err := Encode(mt, v)
	if err != nil {
		s.fail(w, r, fmt.Errorf("encode response: %w", err))
		return
	}
	w.Header().Set("Content-Type", mt)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// fail writes err as an ErrorResponse. Internal errors are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := api.StatusOf(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("uri", r.RequestURI).Msg("internal error while processing request")
	}
	mt, negErr := Negotiate(r.Header.Get("Accept"))
	if negErr != nil {
		mt = MediaJSON
	}
	body, encErr := Encode(mt, api.NewErrorResponse(err))
	if encErr != nil {
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", mt)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

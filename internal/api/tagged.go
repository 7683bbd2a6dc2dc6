package api

import (
	"encoding/base64"
	"fmt"
	"hash/crc32"
	"strings"
)

// Tags used by the canonical text form of ledger addresses.
const (
	TagHash        = "HASH"
	TagBlockID     = "BK"
	TagTransaction = "TX"
	TagNullifier   = "NUL"
	TagMemoKey     = "MEMOKEY"
	TagSignature   = "SIG"
)

const tagSeparator = "~"

// EncodeTagged renders data as TAG~base64url(data || checksum).
func EncodeTagged(tag string, data []byte) string {
	buf := make([]byte, len(data)+1)
	copy(buf, data)
	buf[len(data)] = checksum(tag, data)
	return tag + tagSeparator + base64.RawURLEncoding.EncodeToString(buf)
}

// DecodeTagged splits a tagged string into its tag and payload, verifying the checksum.
func DecodeTagged(s string) (string, []byte, error) {
	tag, body, ok := strings.Cut(s, tagSeparator)
	if !ok || tag == "" {
		return "", nil, fmt.Errorf("%w: %q has no tag", ErrMalformedAddress, s)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %q: %v", ErrMalformedAddress, s, err)
	}
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("%w: %q has no checksum", ErrMalformedAddress, s)
	}
	data := raw[:len(raw)-1]
	if raw[len(raw)-1] != checksum(tag, data) {
		return "", nil, fmt.Errorf("%w: %q: checksum mismatch", ErrMalformedAddress, s)
	}
	return tag, data, nil
}

// DecodeTaggedAs is DecodeTagged restricted to one tag and an exact payload size.
// A size of -1 accepts any length.
func DecodeTaggedAs(want string, size int, s string) ([]byte, error) {
	tag, data, err := DecodeTagged(s)
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, fmt.Errorf("%w: expected tag %s, got %s", ErrMalformedAddress, want, tag)
	}
	if size >= 0 && len(data) != size {
		return nil, fmt.Errorf("%w: %s payload has %d bytes, expected %d", ErrMalformedAddress, want, len(data), size)
	}
	return data, nil
}

func checksum(tag string, data []byte) byte {
	h := crc32.NewIEEE()
	h.Write([]byte(tag))
	h.Write(data)
	sum := h.Sum32()
	return byte(sum) ^ byte(sum>>8) ^ byte(sum>>16) ^ byte(sum>>24)
}

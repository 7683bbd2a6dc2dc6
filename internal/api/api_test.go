package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionIDRoundTrip(t *testing.T) {
	ids := []TransactionID{
		{Block: 0, Index: 0},
		{Block: 7, Index: 2},
		{Block: BlockID(^uint64(0)), Index: 1 << 40},
	}
	for _, id := range ids {
		parsed, err := ParseTransactionID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestBlockIDRoundTrip(t *testing.T) {
	for _, id := range []BlockID{0, 1, 12345} {
		parsed, err := ParseBlockID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}

	b, err := json.Marshal(BlockID(3))
	require.NoError(t, err)
	var decoded BlockID
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, BlockID(3), decoded)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"no-separator",
		"TX~!!!",
		"BK~",
		BlockID(4).String(),         // wrong tag for a transaction
		EncodeTagged("TX", []byte{1}), // wrong size
	}
	for _, s := range cases {
		_, err := ParseTransactionID(s)
		assert.ErrorIs(t, err, ErrMalformedAddress, s)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	data := []byte{1, 2, 3}
	buf := append(append([]byte{}, data...), checksum(TagHash, data)^0xff)
	s := TagHash + "~" + base64.RawURLEncoding.EncodeToString(buf)
	_, _, err := DecodeTagged(s)
	assert.ErrorIs(t, err, ErrMalformedAddress)
	assert.Contains(t, err.Error(), "checksum")
}

func TestNullifierTextRoundTrip(t *testing.T) {
	n := Nullifier{9, 9, 9}
	text, err := n.MarshalText()
	require.NoError(t, err)
	var back Nullifier
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, n, back)
}

func TestHashingIsDeterministic(t *testing.T) {
	a := HashBytes([]byte("ledger"))
	b := HashBytes([]byte("ledger"))
	c := HashBytes([]byte("ledger "))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// chunking must not make a shorter input collide with a zero-padded one
	assert.NotEqual(t, HashBytes([]byte{1}), HashBytes([]byte{0, 1}))

	assert.NotEqual(t, HashWithTag(1, a), HashWithTag(2, a))
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("wrapped: %w", ErrInvalidBlockID):     http.StatusBadRequest,
		fmt.Errorf("wrapped: %w", ErrUnimplemented):      http.StatusNotImplemented,
		ErrUnsupportedMediaType:                          http.StatusUnsupportedMediaType,
		fmt.Errorf("x: %w", ErrAlreadySpent):             http.StatusConflict,
		fmt.Errorf("x: %w", ErrRootUnstable):             http.StatusServiceUnavailable,
		fmt.Errorf("boom"):                               http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, StatusOf(err), err.Error())
	}
}

func TestErrorResponseRoundTrip(t *testing.T) {
	err := fmt.Errorf("block 9: %w", ErrInvalidBlockID)
	resp := NewErrorResponse(err)
	assert.Equal(t, "invalid_block_id", resp.Kind)

	back := resp.Err(http.StatusBadRequest)
	assert.ErrorIs(t, back, ErrInvalidBlockID)
	assert.Contains(t, back.Error(), "block 9")

	unknown := ErrorResponse{Kind: "internal", Message: "oops"}.Err(500)
	assert.ErrorIs(t, unknown, ErrTransport)
}

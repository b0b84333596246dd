package ledger

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covault/vaultrfq/internal/domain"
)

func testInstruction() Instruction {
	return Instruction{
		Method:    MethodCollectPremium,
		Vault:     testVaultAddr,
		Authority: "0x00000000000000000000000000000000000000cc",
		Args:      []*big.Int{big.NewInt(4_500_000)},
		Nonce:     42,
		Signature: "0xdeadbeef",
	}
}

func TestHTTPSubmitterSuccess(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instruction", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(submitResponse{Success: true, TxRef: "tx-abc"})
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL)
	txRef, err := s.Submit(context.Background(), testInstruction())
	require.NoError(t, err)
	assert.Equal(t, "tx-abc", txRef)

	assert.Equal(t, MethodCollectPremium, gotBody["method"])
	assert.Equal(t, testVaultAddr, gotBody["vault"])
	// Numeric args travel as decimal strings.
	assert.Equal(t, []any{"4500000"}, gotBody["args"])
}

func TestHTTPSubmitterProgramRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(submitResponse{Success: false, ErrorMsg: "epoch already rolled"})
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL)
	_, err := s.Submit(context.Background(), testInstruction())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLedgerRejected)
	assert.Contains(t, err.Error(), "epoch already rolled")
}

func TestHTTPSubmitterStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusBadRequest, domain.ErrLedgerRejected},
		{http.StatusUnprocessableEntity, domain.ErrLedgerRejected},
		{http.StatusUnauthorized, domain.ErrLedgerRejected},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tc.status)
		}))

		s := NewHTTPSubmitter(srv.URL)
		_, err := s.Submit(context.Background(), testInstruction())
		srv.Close()

		require.Error(t, err, "status %d", tc.status)
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
	}
}

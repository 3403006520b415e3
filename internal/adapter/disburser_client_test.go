package adapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/models"
)

func newTestDisburser(url string) *DisburserClient {
	return NewDisburserClient(&config.DisburserConfig{
		BaseURL:  url,
		SendMode: 1,
		Timeout:  2 * time.Second,
	})
}

func testBatch() models.SettlementBatch {
	return models.SettlementBatch{
		ID:       "batch-1",
		Token:    "tok-123",
		Amounts:  map[string]string{"EQw1": "3.750", "EQw2": "0.125"},
		Memo:     "Referral bonus from TONFT.app Bazaar",
		BonusIDs: []int64{1, 2, 3},
	}
}

func TestDisburser_SubmitBatchRequestShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sendTransactions", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("send_mode"))
		assert.Equal(t, "Referral bonus from TONFT.app Bazaar", r.URL.Query().Get("comment"))
		assert.Equal(t, "tok-123", r.Header.Get(IdempotencyKeyHeader))
		assert.Equal(t, "batch-1", r.Header.Get("X-Batch-ID"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"EQw1": "3.750", "EQw2": "0.125"}, body)

		_, _ = w.Write([]byte("true"))
	}))
	defer server.Close()

	ok, err := newTestDisburser(server.URL).SubmitBatch(testCtx(t), testBatch())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDisburser_Confirmation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{"bare true", `true`, true},
		{"bare false", `false`, false},
		{"ok object", `{"ok":true}`, true},
		{"success object", `{"success":true}`, true},
		{"failed object", `{"ok":false,"error":"insufficient balance"}`, false},
		{"non-empty string", `"queued"`, true},
		{"false string", `"false"`, false},
		{"empty body", ``, false},
		{"null", `null`, false},
		{"number", `1`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			ok, err := newTestDisburser(server.URL).SubmitBatch(testCtx(t), testBatch())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestDisburser_ServerErrorIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "wallet offline", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ok, err := newTestDisburser(server.URL).SubmitBatch(testCtx(t), testBatch())
	assert.False(t, ok)
	require.Error(t, err)

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "disburser", adapterErr.Gateway)
	assert.Contains(t, adapterErr.Details["body"], "wallet offline")
}

func TestDisburser_EmptyBatchRejected(t *testing.T) {
	ok, err := newTestDisburser("http://127.0.0.1:1").SubmitBatch(testCtx(t), models.SettlementBatch{})
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestDisburser_UnreachableService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	ok, err := newTestDisburser(url).SubmitBatch(testCtx(t), testBatch())
	assert.False(t, ok)
	assert.Error(t, err)
}

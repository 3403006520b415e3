package adapter

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonft-app/backend/internal/config"
)

func TestTonapi_GetNftItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nft/getItems", r.URL.Path)
		assert.Equal(t, "EQa,EQb", r.URL.Query().Get("addresses"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		writeJSON(t, w, http.StatusOK, map[string]interface{}{
			"nft_items": []map[string]interface{}{
				{
					"address":    "EQa",
					"collection": map[string]interface{}{"name": "Punks", "address": "EQcol"},
					"metadata":   map[string]interface{}{"name": "Punk #1", "image": "https://img/1.png"},
				},
			},
		})
	}))
	defer server.Close()

	client := NewTonapiClient(&config.TonapiConfig{BaseURL: server.URL + "/", Token: "secret", Timeout: time.Second})
	items, err := client.GetNftItems(testCtx(t), []string{"EQa", "EQb"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Punks", items[0].Collection.Name)
	assert.Equal(t, "Punk #1", items[0].Metadata.Name)
}

func TestTonapi_InBandErrorMeansEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nft/searchItems", r.URL.Path)
		assert.Equal(t, "EQowner", r.URL.Query().Get("owner"))
		assert.Equal(t, "true", r.URL.Query().Get("include_on_sale"))
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"error": "account not found"})
	}))
	defer server.Close()

	client := NewTonapiClient(&config.TonapiConfig{BaseURL: server.URL})
	items, err := client.GetItemsByOwner(testCtx(t), "EQowner")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)
}

func TestTonapi_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		target error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrGatewayUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := NewTonapiClient(&config.TonapiConfig{BaseURL: server.URL}).GetNftItems(testCtx(t), []string{"EQa"})
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestTonapi_NoAddressesNoRequest(t *testing.T) {
	client := NewTonapiClient(&config.TonapiConfig{BaseURL: "http://127.0.0.1:1"})
	items, err := client.GetNftItems(testCtx(t), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

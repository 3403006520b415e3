package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

type stubItems struct {
	items []NftItem
	err   error
}

func (s *stubItems) GetNftItems(context.Context, []string) ([]NftItem, error) {
	return s.items, s.err
}

type botRecorder struct {
	mu       sync.Mutex
	methods  []string
	payloads []map[string]interface{}
	// methods answered with ok=false
	reject map[string]bool
}

func (b *botRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		assert.Equal(t, "/botTOKEN/"+method, r.URL.Path)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		b.mu.Lock()
		b.methods = append(b.methods, method)
		b.payloads = append(b.payloads, payload)
		rejected := b.reject[method]
		b.mu.Unlock()

		if rejected {
			writeJSON(t, w, http.StatusBadRequest, map[string]interface{}{"ok": false, "description": "Bad Request: wrong file"})
			return
		}
		writeJSON(t, w, http.StatusOK, map[string]interface{}{"ok": true})
	}
}

func newTestNotifier(serverURL string, enabled bool, items NftMetadataProvider) *TelegramNotifier {
	return NewTelegramNotifier(&config.TelegramConfig{
		Enabled:   enabled,
		BotToken:  "TOKEN",
		ChannelID: "@tonft",
		BaseURL:   serverURL,
		Timeout:   2 * time.Second,
	}, "https://tonft.app", items)
}

func testAnnouncement(kind types.AnnouncementKind) models.Announcement {
	return models.Announcement{
		Kind:            kind,
		ContractAddress: "EQsale",
		NftItemAddress:  "EQnft",
		OwnerAddress:    "EQowner",
		Price:           decimal.RequireFromString("12.345"),
		Hash:            "h1",
	}
}

func TestTelegramNotifier_DisabledDropsAnnouncements(t *testing.T) {
	rec := &botRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	n := newTestNotifier(server.URL, false, nil)
	require.NoError(t, n.Announce(testCtx(t), testAnnouncement(types.AnnouncementNew)))
	assert.Empty(t, rec.methods)
}

func TestTelegramNotifier_NewOfferWithPhoto(t *testing.T) {
	rec := &botRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	items := &stubItems{items: []NftItem{{
		Address:    "EQnft",
		Collection: &NftCollection{Name: "Punks <TON>"},
		Metadata:   NftMetadata{Name: "Punk #1", Description: "rare", Image: "ipfs://QmHash"},
	}}}

	n := newTestNotifier(server.URL, true, items)
	require.NoError(t, n.Announce(testCtx(t), testAnnouncement(types.AnnouncementNew)))

	require.Equal(t, []string{"sendPhoto"}, rec.methods)
	payload := rec.payloads[0]
	assert.Equal(t, "@tonft", payload["chat_id"])
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash", payload["photo"])
	assert.Equal(t, "HTML", payload["parse_mode"])

	caption := payload["caption"].(string)
	assert.Contains(t, caption, "New offer")
	assert.Contains(t, caption, "Punk #1")
	assert.Contains(t, caption, "Punks &lt;TON&gt;")
	assert.Contains(t, caption, "Sale price: <a>12.35</a>")
	assert.Contains(t, caption, "Buy now")
	assert.Contains(t, caption, "https://tonft.app/getOffer?")
	assert.Contains(t, caption, "saleContractAddress=EQsale")
}

func TestTelegramNotifier_PhotoRejectedFallsBackToText(t *testing.T) {
	rec := &botRecorder{reject: map[string]bool{"sendPhoto": true}}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	items := &stubItems{items: []NftItem{{Metadata: NftMetadata{Name: "Punk #1", Image: "https://img/1.png"}}}}

	n := newTestNotifier(server.URL, true, items)
	require.NoError(t, n.Announce(testCtx(t), testAnnouncement(types.AnnouncementSold)))

	require.Equal(t, []string{"sendPhoto", "sendMessage"}, rec.methods)
	text := rec.payloads[1]["text"].(string)
	assert.Contains(t, text, "New sale!")
	assert.NotContains(t, text, "Buy now")
	assert.NotContains(t, text, "Description")
}

func TestTelegramNotifier_MetadataFailureStillAnnounces(t *testing.T) {
	rec := &botRecorder{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	n := newTestNotifier(server.URL, true, &stubItems{err: ErrGatewayUnavailable})
	require.NoError(t, n.Announce(testCtx(t), testAnnouncement(types.AnnouncementNew)))
	assert.Equal(t, []string{"sendMessage"}, rec.methods)
}

func TestTelegramNotifier_RejectedMessageReturnsError(t *testing.T) {
	rec := &botRecorder{reject: map[string]bool{"sendMessage": true}}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	n := newTestNotifier(server.URL, true, nil)
	err := n.Announce(testCtx(t), testAnnouncement(types.AnnouncementNew))
	require.Error(t, err)

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "telegram", adapterErr.Gateway)
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

const (
	telegramGateway = "telegram"

	explorerAddressURL = "https://tonscan.org/address/"
	ipfsGatewayURL     = "https://ipfs.io/ipfs/"
)

// TelegramNotifier posts listing announcements to a Telegram channel through the Bot API
type TelegramNotifier struct {
	enabled   bool
	baseURL   string
	botToken  string
	channelID string
	siteURL   string
	client    *http.Client
	items     NftMetadataProvider
	metrics   *metrics.MarketplaceMetrics
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// NewTelegramNotifier creates a new notifier. items may be nil, in which case
// announcements carry no item metadata.
func NewTelegramNotifier(cfg *config.TelegramConfig, siteURL string, items NftMetadataProvider) *TelegramNotifier {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TelegramNotifier{
		enabled:   cfg.Enabled,
		baseURL:   baseURL,
		botToken:  cfg.BotToken,
		channelID: cfg.ChannelID,
		siteURL:   strings.TrimRight(siteURL, "/"),
		client:    &http.Client{Timeout: timeout},
		items:     items,
		metrics:   metrics.Marketplace(),
	}
}

// Announce publishes a new-listing or sale message. Disabled notifiers accept and drop
// every announcement.
func (n *TelegramNotifier) Announce(ctx context.Context, a models.Announcement) error {
	if !n.enabled {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"kind":     a.Kind,
			"contract": a.ContractAddress,
		}).Debug("Telegram disabled, dropping announcement")
		return nil
	}

	var item *NftItem
	if n.items != nil {
		found, err := n.items.GetNftItems(ctx, []string{a.NftItemAddress})
		if err != nil {
			logging.FromContext(ctx).WithError(err).WithField("nft", a.NftItemAddress).
				Warn("Failed to resolve item metadata for announcement")
		} else if len(found) > 0 {
			item = &found[0]
		}
	}

	text := n.formatMessage(a, item)

	if image := imageURL(item); image != "" {
		err := n.send(ctx, "sendPhoto", map[string]interface{}{
			"chat_id":    n.channelID,
			"photo":      image,
			"caption":    text,
			"parse_mode": "HTML",
		})
		if err == nil {
			n.metrics.ObserveNotification(string(a.Kind), nil)
			return nil
		}
		// the channel still gets a text post when the image is rejected
		logging.FromContext(ctx).WithError(err).Debug("sendPhoto failed, falling back to text")
	}

	err := n.send(ctx, "sendMessage", map[string]interface{}{
		"chat_id":                  n.channelID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": false,
	})
	n.metrics.ObserveNotification(string(a.Kind), err)
	if err != nil {
		return NewAdapterError(telegramGateway, "Announce", err, map[string]interface{}{
			"kind":     a.Kind,
			"contract": a.ContractAddress,
		})
	}
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, method string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", n.baseURL, n.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var parsed telegramResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !parsed.OK {
		return fmt.Errorf("%s rejected (HTTP %d): %s", method, resp.StatusCode, parsed.Description)
	}
	return nil
}

// formatMessage renders the HTML body of an announcement
func (n *TelegramNotifier) formatMessage(a models.Announcement, item *NftItem) string {
	var itemName, collectionName, description, image string
	if item != nil {
		itemName = item.Metadata.Name
		description = item.Metadata.Description
		image = imageURL(item)
		if item.Collection != nil {
			collectionName = item.Collection.Name
		}
	}

	title := "New offer"
	if a.Kind == types.AnnouncementSold {
		title = "New sale!"
	}

	var b strings.Builder
	if image != "" {
		fmt.Fprintf(&b, "<b>🔖 <a href=\"%s\">%s</a></b>\n", html.EscapeString(image), title)
	} else {
		fmt.Fprintf(&b, "<b>🔖 %s</b>\n", title)
	}
	fmt.Fprintf(&b, "<b>Item:</b> %s\n", html.EscapeString(itemName))
	fmt.Fprintf(&b, "<b>Collection:</b> %s\n", html.EscapeString(collectionName))
	if a.Kind == types.AnnouncementNew {
		fmt.Fprintf(&b, "<b>Description:</b> %s\n", html.EscapeString(description))
	}
	fmt.Fprintf(&b, "<a href=\"%s%s\">NFT</a> | <a href=\"%s%s\">Sale contract</a>\n",
		explorerAddressURL, url.PathEscape(a.NftItemAddress),
		explorerAddressURL, url.PathEscape(a.ContractAddress))
	fmt.Fprintf(&b, "Sale price: <a>%s</a> 💎", a.Price.Round(2).String())

	if a.Kind == types.AnnouncementNew {
		fmt.Fprintf(&b, "\n<a href=\"%s\"><b>Buy now</b></a>", html.EscapeString(n.offerLink(a)))
	}
	return b.String()
}

func (n *TelegramNotifier) offerLink(a models.Announcement) string {
	params := url.Values{}
	params.Set("owner", a.OwnerAddress)
	params.Set("nftItem", a.NftItemAddress)
	params.Set("saleContractAddress", a.ContractAddress)
	return n.siteURL + "/getOffer?" + params.Encode()
}

func imageURL(item *NftItem) string {
	if item == nil {
		return ""
	}
	image := item.Metadata.Image
	if rest, ok := strings.CutPrefix(image, "ipfs://"); ok {
		return ipfsGatewayURL + rest
	}
	return image
}

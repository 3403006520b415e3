package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/metrics"
)

const (
	tonapiGateway = "tonapi"

	// DefaultTonapiBaseURL is the public tonapi endpoint
	DefaultTonapiBaseURL = "https://tonapi.io"

	ownerItemsLimit = 1000
)

// TonapiClient resolves NFT item metadata from tonapi
type TonapiClient struct {
	baseURL string
	token   string
	client  *http.Client
	metrics *metrics.MarketplaceMetrics
}

// NftItem is the subset of tonapi item data the marketplace displays
type NftItem struct {
	Address    string         `json:"address"`
	Collection *NftCollection `json:"collection,omitempty"`
	Metadata   NftMetadata    `json:"metadata"`
	Owner      *NftOwner      `json:"owner,omitempty"`
	Sale       *NftSale       `json:"sale,omitempty"`
}

// NftCollection identifies the collection of an item
type NftCollection struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// NftMetadata is the off-chain metadata of an item
type NftMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

// NftOwner is the current holder of an item
type NftOwner struct {
	Address string `json:"address"`
}

// NftSale describes the sale contract currently holding an item
type NftSale struct {
	Address string `json:"address"`
	Market  struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"market"`
}

type tonapiItemsResponse struct {
	NftItems []NftItem `json:"nft_items"`
	Error    string    `json:"error"`
}

// NewTonapiClient creates a new tonapi client
func NewTonapiClient(cfg *config.TonapiConfig) *TonapiClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultTonapiBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &TonapiClient{
		baseURL: baseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics.Marketplace(),
	}
}

// GetNftItems returns metadata of the given item addresses
func (c *TonapiClient) GetNftItems(ctx context.Context, addresses []string) ([]NftItem, error) {
	if len(addresses) == 0 {
		return []NftItem{}, nil
	}

	params := url.Values{}
	params.Set("addresses", strings.Join(addresses, ","))

	return c.fetchItems(ctx, "GetNftItems", "/v1/nft/getItems", params)
}

// GetItemsByOwner returns the items held by owner, including those placed on sale
func (c *TonapiClient) GetItemsByOwner(ctx context.Context, owner string) ([]NftItem, error) {
	params := url.Values{}
	params.Set("owner", owner)
	params.Set("include_on_sale", "true")
	params.Set("limit", fmt.Sprintf("%d", ownerItemsLimit))
	params.Set("offset", "0")

	return c.fetchItems(ctx, "GetItemsByOwner", "/v1/nft/searchItems", params)
}

func (c *TonapiClient) fetchItems(ctx context.Context, op, path string, params url.Values) ([]NftItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewAdapterError(tonapiGateway, op, err, nil)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "error")
		return nil, NewAdapterError(tonapiGateway, op, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err), nil)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "error")
		return nil, NewAdapterError(tonapiGateway, op, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err), nil)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "rate_limited")
		return nil, NewAdapterError(tonapiGateway, op, ErrRateLimited, nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "error")
		return nil, NewAdapterError(tonapiGateway, op, fmt.Errorf("%w: HTTP %d", ErrGatewayUnavailable, resp.StatusCode), nil)
	}

	var parsed tonapiItemsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "error")
		return nil, NewAdapterError(tonapiGateway, op, fmt.Errorf("%w: %v", ErrInvalidResponse, err), nil)
	}

	// tonapi reports lookup failures in-band; callers treat them as "nothing found"
	if parsed.Error != "" {
		c.metrics.ObserveGatewayRequest(tonapiGateway, op, "empty")
		return []NftItem{}, nil
	}

	c.metrics.ObserveGatewayRequest(tonapiGateway, op, "ok")
	if parsed.NftItems == nil {
		return []NftItem{}, nil
	}
	return parsed.NftItems, nil
}

package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tonft-app/backend/internal/circuitbreaker"
	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/retry"
	"github.com/tonft-app/backend/internal/types"
)

const (
	toncenterGateway = "toncenter"

	// DefaultToncenterEndpoint is the public toncenter v2 API
	DefaultToncenterEndpoint = "https://toncenter.com/api/v2"

	saleDataMethod = "get_sale_data"

	// a sold or withdrawn sale contract answers get_sale_data with a single stack entry
	collapsedSaleStackLen = 1

	maxResponseBytes = 4 << 20
)

// ToncenterClient reads contract transactions and sale state from the toncenter v2 HTTP API
type ToncenterClient struct {
	pool     *EndpointPool
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *circuitbreaker.CircuitBreaker
	txLimit  int
	metrics  *metrics.MarketplaceMetrics
	retryCfg *retry.RetryConfig
}

// toncenterResponse is the envelope of every toncenter v2 answer
type toncenterResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

// ToncenterTransaction is one entry of getTransactions
type ToncenterTransaction struct {
	Utime   int64              `json:"utime"`
	InMsg   *ToncenterMessage  `json:"in_msg"`
	OutMsgs []ToncenterMessage `json:"out_msgs"`
}

// ToncenterMessage is an inbound or outbound message of a transaction
type ToncenterMessage struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Value       string `json:"value"`
}

type runGetMethodRequest struct {
	Address string        `json:"address"`
	Method  string        `json:"method"`
	Stack   []interface{} `json:"stack"`
}

type runGetMethodResult struct {
	Stack    []json.RawMessage `json:"stack"`
	ExitCode int               `json:"exit_code"`
}

// NewToncenterClient creates a new toncenter client
func NewToncenterClient(cfg *config.ToncenterConfig) (*ToncenterClient, error) {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{DefaultToncenterEndpoint}
	}
	pool, err := NewEndpointPool(&EndpointPoolConfig{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	txLimit := cfg.TransactionLimit
	if txLimit <= 0 {
		txLimit = 100
	}

	m := metrics.Marketplace()
	breakerCfg := circuitbreaker.DefaultConfig(toncenterGateway)
	breakerCfg.IsFailure = func(err error) bool {
		return errors.Is(err, ErrGatewayUnavailable)
	}
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.SetBreakerOpen(name, to != circuitbreaker.StateClosed)
	}

	return &ToncenterClient{
		pool:     pool,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		breaker:  circuitbreaker.NewCircuitBreaker(breakerCfg),
		txLimit:  txLimit,
		metrics:  m,
		retryCfg: &retry.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0},
	}, nil
}

// Pool returns the underlying endpoint pool
func (c *ToncenterClient) Pool() *EndpointPool {
	return c.pool
}

// GetRecentTransactions returns the latest transactions of address, newest first
func (c *ToncenterClient) GetRecentTransactions(ctx context.Context, address string) ([]models.ChainTransaction, error) {
	const op = "GetRecentTransactions"

	params := url.Values{}
	params.Set("address", address)
	params.Set("limit", strconv.Itoa(c.txLimit))
	params.Set("to_lt", "0")
	params.Set("archival", "false")

	var raw []ToncenterTransaction
	if err := c.call(ctx, op, http.MethodGet, "/getTransactions", params, nil, &raw); err != nil {
		return nil, err
	}

	return convertTransactions(raw), nil
}

// GetSaleState runs get_sale_data on the sale contract. A populated stack means the
// listing is still open; a collapsed single-entry stack means it was bought or withdrawn.
func (c *ToncenterClient) GetSaleState(ctx context.Context, address string) (types.SaleState, error) {
	const op = "GetSaleState"

	body := runGetMethodRequest{
		Address: address,
		Method:  saleDataMethod,
		Stack:   []interface{}{},
	}

	var result runGetMethodResult
	if err := c.call(ctx, op, http.MethodPost, "/runGetMethod", nil, body, &result); err != nil {
		return types.SaleStateError, err
	}

	return saleStateFromStack(result.Stack), nil
}

// ToFriendly converts raw to the url-safe user-friendly form via packAddress.
// Addresses already in friendly form are only re-encoded.
func (c *ToncenterClient) ToFriendly(ctx context.Context, raw string) (string, error) {
	const op = "ToFriendly"

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", NewAdapterError(toncenterGateway, op, ErrInvalidAddress, nil)
	}
	if IsFriendlyAddress(raw) {
		return URLSafeAddress(raw), nil
	}

	params := url.Values{}
	params.Set("address", raw)

	cfg := *c.retryCfg
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, ErrGatewayUnavailable)
	}

	var packed string
	result := retry.WithExponentialBackoff(ctx, &cfg, func(ctx context.Context, attempt int) error {
		return c.call(ctx, op, http.MethodGet, "/packAddress", params, nil, &packed)
	})
	if !result.Success {
		return "", result.LastError
	}

	return URLSafeAddress(packed), nil
}

// call performs one gateway request, rotating endpoints on 429 while another endpoint is available
func (c *ToncenterClient) call(ctx context.Context, op, method, path string, params url.Values, body interface{}, out interface{}) error {
	var lastErr error
	for rotation := 0; rotation < c.pool.EndpointCount(); rotation++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return NewAdapterError(toncenterGateway, op, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err), nil)
		}

		endpoint := c.pool.Current()
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doRequest(ctx, endpoint, method, path, params, body, out)
		})
		if err == nil {
			c.metrics.ObserveGatewayRequest(toncenterGateway, op, "ok")
			return nil
		}

		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			c.metrics.ObserveGatewayRequest(toncenterGateway, op, "breaker_open")
			return NewAdapterError(toncenterGateway, op, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err), nil)
		}

		lastErr = err
		if !errors.Is(err, ErrRateLimited) {
			break
		}
		c.metrics.ObserveGatewayRequest(toncenterGateway, op, "rate_limited")
		if poolErr := c.pool.OnRateLimited(endpoint); poolErr != nil {
			lastErr = fmt.Errorf("%w: %w", ErrGatewayUnavailable, poolErr)
			break
		}
	}

	if !errors.Is(lastErr, ErrRateLimited) {
		c.metrics.ObserveGatewayRequest(toncenterGateway, op, "error")
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"gateway": toncenterGateway,
		"op":      op,
	}).WithError(lastErr).Debug("Gateway request failed")

	return NewAdapterError(toncenterGateway, op, lastErr, nil)
}

func (c *ToncenterClient) doRequest(ctx context.Context, endpoint, method, path string, params url.Values, body interface{}, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	target := endpoint + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrGatewayUnavailable, ErrRateLimited)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: HTTP %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var envelope toncenterResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !envelope.OK {
		if resp.StatusCode == http.StatusTooManyRequests || envelope.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", ErrGatewayUnavailable, ErrRateLimited)
		}
		if strings.Contains(strings.ToLower(envelope.Error), "address") {
			return fmt.Errorf("%w: %s", ErrInvalidAddress, envelope.Error)
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalidResponse, resp.StatusCode, envelope.Error)
	}

	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func convertTransactions(raw []ToncenterTransaction) []models.ChainTransaction {
	txs := make([]models.ChainTransaction, 0, len(raw))
	for _, tx := range raw {
		ct := models.ChainTransaction{UnixTime: tx.Utime}
		if tx.InMsg != nil {
			ct.Source = tx.InMsg.Source
		}
		for _, out := range tx.OutMsgs {
			ct.Destinations = append(ct.Destinations, out.Destination)
		}
		txs = append(txs, ct)
	}
	return txs
}

func saleStateFromStack(stack []json.RawMessage) types.SaleState {
	if len(stack) == collapsedSaleStackLen {
		return types.SaleStateNotActive
	}
	return types.SaleStateActive
}

// IsFriendlyAddress reports whether addr looks like a 48 character base64 address
func IsFriendlyAddress(addr string) bool {
	return len(addr) == 48 && !strings.Contains(addr, ":")
}

// URLSafeAddress rewrites a standard base64 friendly address to its url-safe form
func URLSafeAddress(addr string) string {
	return strings.NewReplacer("+", "-", "/", "_").Replace(addr)
}

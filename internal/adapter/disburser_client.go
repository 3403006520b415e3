package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tonft-app/backend/internal/config"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
)

const (
	disburserGateway = "disburser"

	// IdempotencyKeyHeader carries the batch token so the payout service can drop replays
	IdempotencyKeyHeader = "Idempotency-Key"
	batchIDHeader        = "X-Batch-ID"
)

// DisburserClient submits referral payouts to the wallet payout service
type DisburserClient struct {
	baseURL  string
	sendMode int
	client   *http.Client
	metrics  *metrics.MarketplaceMetrics
}

// NewDisburserClient creates a new payout service client
func NewDisburserClient(cfg *config.DisburserConfig) *DisburserClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DisburserClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		sendMode: cfg.SendMode,
		client:   &http.Client{Timeout: timeout},
		metrics:  metrics.Marketplace(),
	}
}

// SubmitBatch posts the wallet to amount map of batch. It returns true only when the
// payout service answers with a truthy confirmation.
func (c *DisburserClient) SubmitBatch(ctx context.Context, batch models.SettlementBatch) (bool, error) {
	const op = "SubmitBatch"

	if len(batch.Amounts) == 0 {
		return false, NewAdapterError(disburserGateway, op, fmt.Errorf("empty batch"), nil)
	}

	body, err := json.Marshal(batch.Amounts)
	if err != nil {
		return false, NewAdapterError(disburserGateway, op, err, nil)
	}

	params := url.Values{}
	params.Set("send_mode", strconv.Itoa(c.sendMode))
	params.Set("comment", batch.Memo)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sendTransactions?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return false, NewAdapterError(disburserGateway, op, err, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if batch.Token != "" {
		req.Header.Set(IdempotencyKeyHeader, batch.Token)
	}
	if batch.ID != "" {
		req.Header.Set(batchIDHeader, batch.ID)
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"batchId": batch.ID,
		"wallets": len(batch.Amounts),
	})

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveGatewayRequest(disburserGateway, op, "error")
		return false, NewAdapterError(disburserGateway, op, err, nil)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.metrics.ObserveGatewayRequest(disburserGateway, op, "error")
		return false, NewAdapterError(disburserGateway, op, err, nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.ObserveGatewayRequest(disburserGateway, op, "error")
		return false, NewAdapterError(disburserGateway, op,
			fmt.Errorf("HTTP %d", resp.StatusCode),
			map[string]interface{}{"body": truncate(string(raw), 200)})
	}

	confirmed := isTruthy(raw)
	if confirmed {
		c.metrics.ObserveGatewayRequest(disburserGateway, op, "ok")
	} else {
		c.metrics.ObserveGatewayRequest(disburserGateway, op, "unconfirmed")
		logger.WithField("response", truncate(string(raw), 200)).Warn("Payout service did not confirm batch")
	}
	return confirmed, nil
}

// isTruthy interprets the payout service answer. Accepted confirmations are a bare
// true, a non-zero number, a non-empty string other than "false", or an object with
// ok or success set.
func isTruthy(raw []byte) bool {
	var v interface{}
	if err := json.Unmarshal(bytes.TrimSpace(raw), &v); err != nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != "" && !strings.EqualFold(val, "false")
	case map[string]interface{}:
		for _, key := range []string{"ok", "success"} {
			if b, ok := val[key].(bool); ok {
				return b
			}
		}
		return false
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

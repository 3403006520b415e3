package adapter

import (
	"context"
	"fmt"

	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

// ChainStateReader defines the read-only chain queries the reconciliation engine needs
type ChainStateReader interface {
	// GetRecentTransactions returns the most recent transactions of address, newest first.
	// Returns an error wrapping ErrGatewayUnavailable if the gateway cannot be reached
	GetRecentTransactions(ctx context.Context, address string) ([]models.ChainTransaction, error)

	// GetSaleState reports whether the sale contract at address still holds its listing.
	// A gateway failure yields SaleStateError together with the error
	GetSaleState(ctx context.Context, address string) (types.SaleState, error)
}

// AddressCanonicalizer converts raw addresses to the url-safe user-friendly form
type AddressCanonicalizer interface {
	ToFriendly(ctx context.Context, raw string) (string, error)
}

// Notifier publishes listing announcements to the marketplace channel
type Notifier interface {
	Announce(ctx context.Context, announcement models.Announcement) error
}

// Disburser submits aggregated payouts. The boolean reports whether the payout
// service confirmed the batch
type Disburser interface {
	SubmitBatch(ctx context.Context, batch models.SettlementBatch) (bool, error)
}

// NftMetadataProvider resolves display metadata of NFT items
type NftMetadataProvider interface {
	GetNftItems(ctx context.Context, addresses []string) ([]NftItem, error)
}

// Common error types for gateways

var (
	// ErrGatewayUnavailable indicates the chain gateway could not answer
	ErrGatewayUnavailable = fmt.Errorf("chain gateway unavailable")

	// ErrRateLimited indicates the gateway answered 429
	ErrRateLimited = fmt.Errorf("gateway rate limit exceeded")

	// ErrInvalidAddress indicates the address was rejected by the gateway
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrInvalidResponse indicates the gateway answered with an unexpected payload
	ErrInvalidResponse = fmt.Errorf("invalid gateway response")

	// ErrNotConfigured indicates a gateway that was disabled in configuration
	ErrNotConfigured = fmt.Errorf("gateway not configured")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Gateway string
	Op      string // Operation that failed (e.g., "GetRecentTransactions", "SubmitBatch")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("gateway error [%s:%s]: %v (details: %+v)", e.Gateway, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("gateway error [%s:%s]: %v", e.Gateway, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(gateway string, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Gateway: gateway,
		Op:      op,
		Err:     err,
		Details: details,
	}
}

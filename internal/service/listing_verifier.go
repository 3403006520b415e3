package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/storage"
	"github.com/tonft-app/backend/internal/types"
)

// Listing rejection reasons
const (
	ReasonNotTransferred      = "not_transferred"
	ReasonChainUnavailable    = "chain_unavailable"
	ReasonDuplicate           = "duplicate"
	ReasonActiveListingExists = "active_listing_exists"
)

var maxPercentSum = decimal.NewFromInt(100)

// ListingClaim is a seller's claim that an NFT was moved into a sale contract
type ListingClaim struct {
	ContractAddress string
	NftItemAddress  string
	OwnerAddress    string
	Price           decimal.Decimal
	RoyaltyPercent  decimal.Decimal
	RoyaltyAddress  string
	RefPercent      decimal.Decimal
	Hash            string
}

// ListingResult reports whether a claim was admitted as an order
type ListingResult struct {
	Admitted bool          `json:"admitted"`
	Reason   string        `json:"reason,omitempty"`
	Order    *models.Order `json:"order,omitempty"`
}

// Transferred reports whether the chain showed the transfer, regardless of admission
func (r *ListingResult) Transferred() bool {
	return r.Admitted || r.Reason == ReasonDuplicate || r.Reason == ReasonActiveListingExists
}

// ListingVerifier admits an order only after the NFT transfer into the sale contract
// is visible on chain
type ListingVerifier struct {
	chain    adapter.ChainStateReader
	ledger   OrderLedger
	notifier adapter.Notifier
	events   *EventRecorder
	metrics  *metrics.MarketplaceMetrics
}

// NewListingVerifier creates a new listing verifier
func NewListingVerifier(
	chain adapter.ChainStateReader,
	ledger OrderLedger,
	notifier adapter.Notifier,
	events *EventRecorder,
) *ListingVerifier {
	return &ListingVerifier{
		chain:    chain,
		ledger:   ledger,
		notifier: notifier,
		events:   events,
		metrics:  metrics.Marketplace(),
	}
}

// ValidateListingClaim checks the claim preconditions without touching any collaborator
func ValidateListingClaim(claim ListingClaim) error {
	required := []struct {
		name  string
		value string
	}{
		{"contractAddress", claim.ContractAddress},
		{"nftItemAddress", claim.NftItemAddress},
		{"ownerAddress", claim.OwnerAddress},
		{"hash", claim.Hash},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return apperrors.NewMissingParameterError(field.name)
		}
	}

	if !claim.Price.IsPositive() {
		return apperrors.NewInvalidParameterError("price", "must be greater than zero")
	}
	if claim.RoyaltyPercent.IsNegative() {
		return apperrors.NewInvalidParameterError("royaltyPercent", "must not be negative")
	}
	if claim.RefPercent.IsNegative() {
		return apperrors.NewInvalidParameterError("refPercent", "must not be negative")
	}
	if claim.RoyaltyPercent.Add(claim.RefPercent).GreaterThan(maxPercentSum) {
		return apperrors.NewInvalidParameterError("refPercent", "refPercent + royaltyPercent must not exceed 100")
	}
	return nil
}

// VerifyAndRecord admits claim when the sale contract's recent transactions include
// one sent by the NFT item. Rejections are reported in the result; only invalid input
// and ledger failures are returned as errors.
func (v *ListingVerifier) VerifyAndRecord(ctx context.Context, claim ListingClaim) (*ListingResult, error) {
	if err := ValidateListingClaim(claim); err != nil {
		v.metrics.ObserveListing("invalid")
		return nil, err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"contract": claim.ContractAddress,
		"nft":      claim.NftItemAddress,
		"hash":     claim.Hash,
	})

	txs, err := v.chain.GetRecentTransactions(ctx, claim.ContractAddress)
	if err != nil {
		logger.WithError(err).Warn("Chain lookup failed during listing verification")
		return v.reject(ReasonChainUnavailable), nil
	}

	if !transferObserved(txs, claim.NftItemAddress) {
		logger.Debug("NFT transfer not observed in sale contract transactions")
		return v.reject(ReasonNotTransferred), nil
	}

	order := &models.Order{
		ContractAddress: claim.ContractAddress,
		NftItemAddress:  claim.NftItemAddress,
		OwnerAddress:    claim.OwnerAddress,
		Price:           claim.Price,
		Status:          types.OrderStatusActive,
		RoyaltyPercent:  claim.RoyaltyPercent,
		RoyaltyAddress:  claim.RoyaltyAddress,
		RefPercent:      claim.RefPercent,
		Hash:            claim.Hash,
	}

	if err := v.ledger.InsertOrder(ctx, order); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicateOrder):
			logger.Info("Listing replayed with an existing hash")
			return v.reject(ReasonDuplicate), nil
		case errors.Is(err, storage.ErrActiveListingExists):
			logger.Info("Listing already has an active order")
			return v.reject(ReasonActiveListingExists), nil
		default:
			v.metrics.ObserveListing("error")
			return nil, apperrors.NewDatabaseError("insert order", err)
		}
	}

	logger.WithField("orderId", order.ID).Info("Listing admitted")
	v.metrics.ObserveListing("admitted")

	v.events.Record(ctx, types.MarketEventListed, order)

	if err := v.notifier.Announce(ctx, models.Announcement{
		Kind:            types.AnnouncementNew,
		ContractAddress: order.ContractAddress,
		NftItemAddress:  order.NftItemAddress,
		OwnerAddress:    order.OwnerAddress,
		Price:           order.Price,
		Hash:            order.Hash,
	}); err != nil {
		logger.WithError(apperrors.NewNotificationError("telegram", err)).Warn("Failed to announce new listing")
	}

	return &ListingResult{Admitted: true, Order: order}, nil
}

func (v *ListingVerifier) reject(reason string) *ListingResult {
	v.metrics.ObserveListing(reason)
	return &ListingResult{Admitted: false, Reason: reason}
}

// transferObserved reports whether any transaction was sent by nftItemAddress.
// Both sides are compared in url-safe form.
func transferObserved(txs []models.ChainTransaction, nftItemAddress string) bool {
	want := adapter.URLSafeAddress(nftItemAddress)
	for _, tx := range txs {
		if tx.Source != "" && adapter.URLSafeAddress(tx.Source) == want {
			return true
		}
	}
	return false
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
)

// ContractDiscovery finds the sale contract the marketplace deployed for a seller
type ContractDiscovery struct {
	chain              adapter.ChainStateReader
	marketplaceAddress string
}

// NewContractDiscovery creates a new contract discovery service
func NewContractDiscovery(chain adapter.ChainStateReader, marketplaceAddress string) *ContractDiscovery {
	return &ContractDiscovery{chain: chain, marketplaceAddress: marketplaceAddress}
}

// FindSaleContract scans the marketplace's recent transactions for the first one sent
// by owner strictly after createdAt that emitted a message; its first destination is
// the new sale contract. Found is false while the deployment is not yet visible.
func (d *ContractDiscovery) FindSaleContract(ctx context.Context, owner string, createdAt time.Time) (string, bool, error) {
	if strings.TrimSpace(owner) == "" {
		return "", false, apperrors.NewMissingParameterError("ownerAddress")
	}
	if d.marketplaceAddress == "" {
		return "", false, apperrors.NewServiceUnavailableError("marketplace address not configured")
	}

	txs, err := d.chain.GetRecentTransactions(ctx, d.marketplaceAddress)
	if err != nil {
		return "", false, apperrors.NewChainError("toncenter", err)
	}

	want := adapter.URLSafeAddress(owner)
	after := createdAt.Unix()
	for _, tx := range txs {
		if tx.Source == "" || adapter.URLSafeAddress(tx.Source) != want || tx.UnixTime <= after {
			continue
		}
		if len(tx.Destinations) == 0 {
			continue
		}
		return tx.Destinations[0], true, nil
	}

	return "", false, nil
}

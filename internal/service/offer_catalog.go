package service

import (
	"context"

	"github.com/tonft-app/backend/internal/adapter"
	apperrors "github.com/tonft-app/backend/internal/errors"
	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

const defaultCatalogLimit = 200

// OrderLister lists orders by status
type OrderLister interface {
	ListByStatus(ctx context.Context, status types.OrderStatus, limit int) ([]*models.Order, error)
}

// Offer is an order joined with its item metadata
type Offer struct {
	*models.Order
	Item *adapter.NftItem `json:"item,omitempty"`
}

// OfferListing is the public marketplace view
type OfferListing struct {
	ActiveOrders []Offer                  `json:"activeOrders"`
	SoldOrders   []Offer                  `json:"soldOrders"`
	Statistics   *models.MarketStatistics `json:"statistics,omitempty"`
}

// OfferCatalog assembles the public list of active and sold offers
type OfferCatalog struct {
	orders        OrderLister
	items         adapter.NftMetadataProvider
	canonicalizer adapter.AddressCanonicalizer
	stats         *StatisticsService
	limit         int
}

// NewOfferCatalog creates a new offer catalog. items, canonicalizer and stats may be nil.
func NewOfferCatalog(
	orders OrderLister,
	items adapter.NftMetadataProvider,
	canonicalizer adapter.AddressCanonicalizer,
	stats *StatisticsService,
) *OfferCatalog {
	return &OfferCatalog{
		orders:        orders,
		items:         items,
		canonicalizer: canonicalizer,
		stats:         stats,
		limit:         defaultCatalogLimit,
	}
}

// ListOffers returns active and sold offers with metadata. Metadata and statistics
// are best effort.
func (c *OfferCatalog) ListOffers(ctx context.Context) (*OfferListing, error) {
	active, err := c.orders.ListByStatus(ctx, types.OrderStatusActive, c.limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list active orders", err)
	}
	sold, err := c.orders.ListByStatus(ctx, types.OrderStatusSold, c.limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list sold orders", err)
	}

	items := c.lookupItems(ctx, append(append([]*models.Order{}, active...), sold...))

	listing := &OfferListing{
		ActiveOrders: joinItems(active, items),
		SoldOrders:   joinItems(sold, items),
	}

	if c.stats != nil {
		stats, err := c.stats.GetStatistics(ctx)
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Statistics unavailable for offer listing")
		} else {
			listing.Statistics = stats
		}
	}
	return listing, nil
}

// lookupItems resolves metadata keyed by the url-safe friendly item address
func (c *OfferCatalog) lookupItems(ctx context.Context, orders []*models.Order) map[string]*adapter.NftItem {
	byAddress := make(map[string]*adapter.NftItem)
	if c.items == nil || len(orders) == 0 {
		return byAddress
	}

	seen := make(map[string]bool, len(orders))
	addresses := make([]string, 0, len(orders))
	for _, o := range orders {
		if !seen[o.NftItemAddress] {
			seen[o.NftItemAddress] = true
			addresses = append(addresses, o.NftItemAddress)
		}
	}

	found, err := c.items.GetNftItems(ctx, addresses)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to load item metadata")
		return byAddress
	}

	for i := range found {
		item := &found[i]
		address := item.Address
		if !adapter.IsFriendlyAddress(address) && c.canonicalizer != nil {
			friendly, err := c.canonicalizer.ToFriendly(ctx, address)
			if err != nil {
				continue
			}
			address = friendly
		}
		byAddress[adapter.URLSafeAddress(address)] = item
	}
	return byAddress
}

func joinItems(orders []*models.Order, items map[string]*adapter.NftItem) []Offer {
	offers := make([]Offer, 0, len(orders))
	for _, o := range orders {
		offers = append(offers, Offer{Order: o, Item: items[adapter.URLSafeAddress(o.NftItemAddress)]})
	}
	return offers
}

// Package service implements the offer and order lifecycle reconciliation engine.
package service

import (
	"context"

	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

// OrderLedger interface for order persistence
type OrderLedger interface {
	FindByHash(ctx context.Context, hash string) (*models.Order, error)
	FindActiveByKeys(ctx context.Context, key models.ListingKey) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	SetStatusByContract(ctx context.Context, contractAddress string, status types.OrderStatus) (bool, error)
	GetByContract(ctx context.Context, contractAddress string) (*models.Order, error)
}

// BonusLedger interface for referral bonus persistence
type BonusLedger interface {
	InsertBonus(ctx context.Context, bonus *models.ReferralBonus) (bool, error)
	ListUnprocessedBonuses(ctx context.Context) ([]*models.ReferralBonus, error)
	MarkBonusesProcessed(ctx context.Context, ids []int64) (int64, error)
}

// MarketEventStore interface for the market event archive
type MarketEventStore interface {
	Record(ctx context.Context, event *models.MarketEvent) error
	Statistics(ctx context.Context) (*models.MarketStatistics, error)
}

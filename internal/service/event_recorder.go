package service

import (
	"context"
	"time"

	"github.com/tonft-app/backend/internal/logging"
	"github.com/tonft-app/backend/internal/metrics"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

const archiveWriteTimeout = 3 * time.Second

// EventRecorder appends listing lifecycle events to the market archive.
// Archiving is best effort: failures are logged and counted, never returned.
type EventRecorder struct {
	store   MarketEventStore
	metrics *metrics.MarketplaceMetrics
	now     func() time.Time
}

// NewEventRecorder creates a new event recorder. A nil store disables archiving.
func NewEventRecorder(store MarketEventStore) *EventRecorder {
	return &EventRecorder{
		store:   store,
		metrics: metrics.Marketplace(),
		now:     time.Now,
	}
}

// Record archives kind for order
func (r *EventRecorder) Record(ctx context.Context, kind types.MarketEventKind, order *models.Order) {
	if r == nil || r.store == nil || order == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, archiveWriteTimeout)
	defer cancel()

	event := &models.MarketEvent{
		Kind:            kind,
		ContractAddress: order.ContractAddress,
		NftItemAddress:  order.NftItemAddress,
		OwnerAddress:    order.OwnerAddress,
		Price:           order.Price,
		Hash:            order.Hash,
		Timestamp:       r.now().UTC(),
	}

	if err := r.store.Record(ctx, event); err != nil {
		r.metrics.IncArchiveWriteFailure()
		logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"kind":     kind,
			"contract": order.ContractAddress,
		}).Warn("Failed to archive market event")
	}
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tonft-app/backend/internal/models"
)

// MarketEventRepository archives listing lifecycle events in ClickHouse
type MarketEventRepository struct {
	db *ClickHouseDB
}

// NewMarketEventRepository creates a new market event repository
func NewMarketEventRepository(db *ClickHouseDB) *MarketEventRepository {
	return &MarketEventRepository{db: db}
}

// Record appends one event to the archive
func (r *MarketEventRepository) Record(ctx context.Context, event *models.MarketEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `INSERT INTO market_events
		(kind, contract_address, nft_item_address, owner_address, price, hash, timestamp)`)
	if err != nil {
		return fmt.Errorf("failed to prepare market event batch: %w", err)
	}

	if err := batch.Append(
		string(event.Kind),
		event.ContractAddress,
		event.NftItemAddress,
		event.OwnerAddress,
		event.Price,
		event.Hash,
		event.Timestamp,
	); err != nil {
		_ = batch.Abort()
		return fmt.Errorf("failed to append market event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send market event: %w", err)
	}
	return nil
}

// Statistics aggregates sold and still-listed totals. A contract counts as active
// when it was listed and has neither a sold nor a canceled event.
func (r *MarketEventRepository) Statistics(ctx context.Context) (*models.MarketStatistics, error) {
	stats := &models.MarketStatistics{}

	err := r.db.Conn().QueryRow(ctx, `
		SELECT
			toDecimal128(sumIf(price, kind = 'sold'), 9),
			countIf(kind = 'sold'),
			uniqExactIf(owner_address, kind = 'listed')
		FROM market_events
	`).Scan(&stats.TotalSoldAmount, &stats.TotalItemsSold, &stats.UniqueWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to query sold statistics: %w", err)
	}

	err = r.db.Conn().QueryRow(ctx, `
		SELECT
			toDecimal128(sum(listed_price), 9),
			count()
		FROM (
			SELECT
				contract_address,
				argMaxIf(price, timestamp, kind = 'listed') AS listed_price,
				groupUniqArray(kind) AS kinds
			FROM market_events
			GROUP BY contract_address
		)
		WHERE has(kinds, 'listed') AND NOT has(kinds, 'sold') AND NOT has(kinds, 'canceled')
	`).Scan(&stats.TotalActiveAmount, &stats.TotalActiveItems)
	if err != nil {
		return nil, fmt.Errorf("failed to query active statistics: %w", err)
	}

	stats.AverageSoldPrice = average(stats.TotalSoldAmount, stats.TotalItemsSold)
	stats.AverageActivePrice = average(stats.TotalActiveAmount, stats.TotalActiveItems)
	return stats, nil
}

func average(total decimal.Decimal, n uint64) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))) // #nosec G115 - row counts fit in int64
}

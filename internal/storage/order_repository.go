package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/tonft-app/backend/internal/models"
	"github.com/tonft-app/backend/internal/types"
)

var (
	// ErrDuplicateOrder is returned when an order with the same hash already exists
	ErrDuplicateOrder = errors.New("order with this hash already exists")
	// ErrActiveListingExists is returned when the (nft, owner, contract) tuple already has an active order
	ErrActiveListingExists = errors.New("active order already exists for this listing")
	// ErrOrderNotFound is returned when no order matches the lookup
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidStatus is returned for statuses that cannot be persisted as a transition target
	ErrInvalidStatus = errors.New("invalid order status transition")
)

const (
	uniqueViolation      = "23505"
	activeListingIndex   = "orders_active_listing_key"
	bonusContractIndex   = "referral_bonus_contract_key"
	orderSelectColumns   = `id, contract_address, nft_item_address, owner_address, price::text, status, royalty_percent::text, royalty_address, ref_percent::text, bought_by, hash, created_at`
	activeListingLockKey = "orders:active:"
)

// OrderRepository handles order persistence
type OrderRepository struct {
	db *PostgresDB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *PostgresDB) *OrderRepository {
	return &OrderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                 models.Order
		price, royaltyPercent, refPercent string
		status                            string
	)

	err := row.Scan(
		&o.ID,
		&o.ContractAddress,
		&o.NftItemAddress,
		&o.OwnerAddress,
		&price,
		&status,
		&royaltyPercent,
		&o.RoyaltyAddress,
		&refPercent,
		&o.BoughtBy,
		&o.Hash,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = types.OrderStatus(status)
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q: %w", price, err)
	}
	if o.RoyaltyPercent, err = decimal.NewFromString(royaltyPercent); err != nil {
		return nil, fmt.Errorf("invalid royalty percent %q: %w", royaltyPercent, err)
	}
	if o.RefPercent, err = decimal.NewFromString(refPercent); err != nil {
		return nil, fmt.Errorf("invalid ref percent %q: %w", refPercent, err)
	}
	return &o, nil
}

func (r *OrderRepository) queryOne(ctx context.Context, q pgxQuerier, where string, args ...any) (*models.Order, error) {
	query := `SELECT ` + orderSelectColumns + ` FROM orders WHERE ` + where + ` ORDER BY id DESC LIMIT 1`

	order, err := scanOrder(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return order, nil
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// FindByHash retrieves an order by its client-supplied hash
func (r *OrderRepository) FindByHash(ctx context.Context, hash string) (*models.Order, error) {
	return r.queryOne(ctx, r.db.Pool(), `hash = $1`, hash)
}

// FindActiveByKeys retrieves the active order of a listing tuple
func (r *OrderRepository) FindActiveByKeys(ctx context.Context, key models.ListingKey) (*models.Order, error) {
	return r.queryOne(ctx, r.db.Pool(),
		`nft_item_address = $1 AND owner_address = $2 AND contract_address = $3 AND status = 'active'`,
		key.NftItemAddress, key.OwnerAddress, key.ContractAddress,
	)
}

// GetByContract retrieves the most recent order of a sale contract regardless of status
func (r *OrderRepository) GetByContract(ctx context.Context, contractAddress string) (*models.Order, error) {
	return r.queryOne(ctx, r.db.Pool(), `contract_address = $1`, contractAddress)
}

// InsertOrder stores a new active order. The hash and the active listing tuple are both
// unique; the check and the insert run under a transaction-scoped advisory lock on the tuple.
func (r *OrderRepository) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.Status == "" {
		order.Status = types.OrderStatusActive
	}
	if order.Status != types.OrderStatusActive {
		return fmt.Errorf("%w: new orders must be active, got %q", ErrInvalidStatus, order.Status)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			activeListingLockKey+order.Key().String()); err != nil {
			return fmt.Errorf("failed to acquire listing lock: %w", err)
		}

		var hashTaken, listingTaken bool
		err := tx.QueryRow(ctx,
			`SELECT
				EXISTS (SELECT 1 FROM orders WHERE hash = $1),
				EXISTS (SELECT 1 FROM orders
					WHERE nft_item_address = $2 AND owner_address = $3 AND contract_address = $4 AND status = 'active')`,
			order.Hash, order.NftItemAddress, order.OwnerAddress, order.ContractAddress,
		).Scan(&hashTaken, &listingTaken)
		if err != nil {
			return fmt.Errorf("failed to check existing orders: %w", err)
		}
		// a replayed hash reports as duplicate even when the tuple is also taken
		if hashTaken {
			return ErrDuplicateOrder
		}
		if listingTaken {
			return ErrActiveListingExists
		}

		query := `
			INSERT INTO orders (contract_address, nft_item_address, owner_address, price, status,
				royalty_percent, royalty_address, ref_percent, bought_by, hash)
			VALUES ($1, $2, $3, $4::numeric, $5, $6::numeric, $7, $8::numeric, $9, $10)
			ON CONFLICT (hash) DO NOTHING
			RETURNING id, created_at
		`

		err = tx.QueryRow(ctx, query,
			order.ContractAddress,
			order.NftItemAddress,
			order.OwnerAddress,
			order.Price.String(),
			string(order.Status),
			order.RoyaltyPercent.String(),
			order.RoyaltyAddress,
			order.RefPercent.String(),
			order.BoughtBy,
			order.Hash,
		).Scan(&order.ID, &order.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDuplicateOrder
			}
			if constraint, ok := uniqueConstraint(err); ok && constraint == activeListingIndex {
				return ErrActiveListingExists
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}

		return nil
	})
}

// SetStatusByContract moves the active orders of a sale contract to status. It reports
// whether any row transitioned; a contract with no active order is a no-op.
func (r *OrderRepository) SetStatusByContract(ctx context.Context, contractAddress string, status types.OrderStatus) (bool, error) {
	if !types.OrderStatusActive.CanTransitionTo(status) {
		return false, fmt.Errorf("%w: active -> %q", ErrInvalidStatus, status)
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE orders SET status = $1 WHERE contract_address = $2 AND status = 'active'`,
		string(status), contractAddress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteByNFT physically removes every order of an NFT item
func (r *OrderRepository) DeleteByNFT(ctx context.Context, nftItemAddress string) (int64, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM orders WHERE nft_item_address = $1`, nftItemAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders by nft: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByIDs physically removes the given orders
func (r *OrderRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM orders WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orders by id: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByStatus returns orders in status, newest first
func (r *OrderRepository) ListByStatus(ctx context.Context, status types.OrderStatus, limit int) ([]*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+orderSelectColumns+` FROM orders WHERE status = $1 ORDER BY id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Statistics aggregates sold and active totals straight from the ledger
func (r *OrderRepository) Statistics(ctx context.Context) (*models.MarketStatistics, error) {
	var (
		stats                  models.MarketStatistics
		soldSum, activeSum     string
		soldCount, activeCount int64
		uniqueWallets          int64
	)

	err := r.db.Pool().QueryRow(ctx, `
		SELECT
			COALESCE(SUM(price) FILTER (WHERE status = 'sold'), 0)::text,
			COUNT(*) FILTER (WHERE status = 'sold'),
			COALESCE(SUM(price) FILTER (WHERE status = 'active'), 0)::text,
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(DISTINCT owner_address)
		FROM orders
	`).Scan(&soldSum, &soldCount, &activeSum, &activeCount, &uniqueWallets)
	if err != nil {
		return nil, fmt.Errorf("failed to query order statistics: %w", err)
	}

	if stats.TotalSoldAmount, err = decimal.NewFromString(soldSum); err != nil {
		return nil, fmt.Errorf("invalid sold total %q: %w", soldSum, err)
	}
	if stats.TotalActiveAmount, err = decimal.NewFromString(activeSum); err != nil {
		return nil, fmt.Errorf("invalid active total %q: %w", activeSum, err)
	}
	stats.TotalItemsSold = uint64(soldCount)     // #nosec G115 - counts are non-negative
	stats.TotalActiveItems = uint64(activeCount) // #nosec G115 - counts are non-negative
	stats.UniqueWallets = uint64(uniqueWallets)  // #nosec G115 - counts are non-negative
	stats.AverageSoldPrice = average(stats.TotalSoldAmount, stats.TotalItemsSold)
	stats.AverageActivePrice = average(stats.TotalActiveAmount, stats.TotalActiveItems)
	return &stats, nil
}

// uniqueConstraint returns the violated constraint name of a unique violation
func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

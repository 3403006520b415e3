package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/tonft-app/backend/internal/models"
)

// BonusRepository handles referral bonus persistence
type BonusRepository struct {
	db *PostgresDB
}

// NewBonusRepository creates a new referral bonus repository
func NewBonusRepository(db *PostgresDB) *BonusRepository {
	return &BonusRepository{db: db}
}

// InsertBonus accrues a bonus for a sale contract. A contract accrues at most once;
// the second insert for the same contract reports false without error.
func (r *BonusRepository) InsertBonus(ctx context.Context, bonus *models.ReferralBonus) (bool, error) {
	query := `
		INSERT INTO referral_bonus (user_wallet, amount, contract_address, processed)
		VALUES ($1, $2::numeric, $3, FALSE)
		ON CONFLICT (contract_address) DO NOTHING
		RETURNING id, created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		bonus.UserWallet,
		bonus.Amount.String(),
		bonus.ContractAddress,
	).Scan(&bonus.ID, &bonus.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if constraint, ok := uniqueConstraint(err); ok && constraint == bonusContractIndex {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert referral bonus: %w", err)
	}

	bonus.Processed = false
	return true, nil
}

// ListUnprocessedBonuses returns every bonus not yet settled, oldest first
func (r *BonusRepository) ListUnprocessedBonuses(ctx context.Context) ([]*models.ReferralBonus, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_wallet, amount::text, contract_address, processed, created_at
		FROM referral_bonus
		WHERE processed = FALSE
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed bonuses: %w", err)
	}
	defer rows.Close()

	var bonuses []*models.ReferralBonus
	for rows.Next() {
		var (
			b      models.ReferralBonus
			amount string
		)
		if err := rows.Scan(&b.ID, &b.UserWallet, &amount, &b.ContractAddress, &b.Processed, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan referral bonus: %w", err)
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid bonus amount %q: %w", amount, err)
		}
		bonuses = append(bonuses, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating referral bonuses: %w", err)
	}
	return bonuses, nil
}

// MarkBonusesProcessed flips processed to true for the given ids. Rows already
// processed are left untouched, so the call is safe to repeat.
func (r *BonusRepository) MarkBonusesProcessed(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE referral_bonus SET processed = TRUE WHERE id = ANY($1) AND processed = FALSE`, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark bonuses processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

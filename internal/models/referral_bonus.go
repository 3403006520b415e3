package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralBonus is credit accrued to a referring wallet for one confirmed sale.
// Only Processed ever changes after insert, and only from false to true.
type ReferralBonus struct {
	ID              int64           `json:"id" db:"id"`
	UserWallet      string          `json:"userWallet" db:"user_wallet"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	ContractAddress string          `json:"contractAddress" db:"contract_address"`
	Processed       bool            `json:"processed" db:"processed"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
}

// SettlementBatch is one aggregated disbursement covering the unprocessed bonuses of a cycle
type SettlementBatch struct {
	// ID is a per-submission identifier used for tracing
	ID string
	// Token is derived from the bonus ids in the batch; the same row set always yields the same token
	Token string
	// Amounts maps canonical wallet to a fixed 3-decimal amount string
	Amounts map[string]string
	Memo    string
	// BonusIDs are the rows that become processed once the batch is confirmed
	BonusIDs []int64
}

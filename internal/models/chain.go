package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tonft-app/backend/internal/types"
)

// ChainTransaction is a read-only view of one transaction of a contract.
// It is used for membership and timing checks and is never persisted.
type ChainTransaction struct {
	Source       string   `json:"source"`
	Destinations []string `json:"destinations"`
	UnixTime     int64    `json:"utime"`
}

// Time returns the transaction time
func (t ChainTransaction) Time() time.Time {
	return time.Unix(t.UnixTime, 0).UTC()
}

// Announcement is the payload handed to the channel notifier
type Announcement struct {
	Kind            types.AnnouncementKind
	ContractAddress string
	NftItemAddress  string
	OwnerAddress    string
	Price           decimal.Decimal
	Hash            string
}

// MarketEvent is one archived lifecycle event of a listing
type MarketEvent struct {
	Kind            types.MarketEventKind `ch:"kind"`
	ContractAddress string                `ch:"contract_address"`
	NftItemAddress  string                `ch:"nft_item_address"`
	OwnerAddress    string                `ch:"owner_address"`
	Price           decimal.Decimal       `ch:"price"`
	Hash            string                `ch:"hash"`
	Timestamp       time.Time             `ch:"timestamp"`
}

// MarketStatistics summarises marketplace activity
type MarketStatistics struct {
	TotalSoldAmount    decimal.Decimal `json:"totalSoldAmount"`
	TotalItemsSold     uint64          `json:"totalItemsSold"`
	AverageSoldPrice   decimal.Decimal `json:"averageSoldPrice"`
	TotalActiveAmount  decimal.Decimal `json:"totalActiveAmount"`
	TotalActiveItems   uint64          `json:"totalActiveItems"`
	AverageActivePrice decimal.Decimal `json:"averageActivePrice"`
	TotalSavedForUsers decimal.Decimal `json:"totalSavedForUsers"`
	UniqueWallets      uint64          `json:"uniqueWallets"`
}

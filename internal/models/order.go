package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tonft-app/backend/internal/types"
)

// Order represents one listing of an NFT item in a sale contract, stored in Postgres
type Order struct {
	ID              int64             `json:"id" db:"id"`
	ContractAddress string            `json:"contractAddress" db:"contract_address"`
	NftItemAddress  string            `json:"nftItemAddress" db:"nft_item_address"`
	OwnerAddress    string            `json:"ownerAddress" db:"owner_address"`
	Price           decimal.Decimal   `json:"price" db:"price"`
	Status          types.OrderStatus `json:"status" db:"status"`
	RoyaltyPercent  decimal.Decimal   `json:"royaltyPercent" db:"royalty_percent"`
	RoyaltyAddress  string            `json:"royaltyAddress" db:"royalty_address"`
	RefPercent      decimal.Decimal   `json:"refPercent" db:"ref_percent"`
	BoughtBy        string            `json:"boughtBy,omitempty" db:"bought_by"`
	Hash            string            `json:"hash" db:"hash"`
	CreatedAt       time.Time         `json:"createdAt" db:"created_at"`
}

// ListingKey identifies the (nft, owner, contract) tuple that may hold at most one active order
type ListingKey struct {
	NftItemAddress  string
	OwnerAddress    string
	ContractAddress string
}

// Key returns the listing key of the order
func (o *Order) Key() ListingKey {
	return ListingKey{
		NftItemAddress:  o.NftItemAddress,
		OwnerAddress:    o.OwnerAddress,
		ContractAddress: o.ContractAddress,
	}
}

// String renders the key as a stable lock name
func (k ListingKey) String() string {
	return strings.Join([]string{k.NftItemAddress, k.OwnerAddress, k.ContractAddress}, "|")
}

// Package types provides common type definitions for the marketplace backend.
package types

// OrderStatus represents the persisted lifecycle state of an order
type OrderStatus string

const (
	// OrderStatusActive represents a listing confirmed on-chain and open for purchase
	OrderStatusActive OrderStatus = "active"
	// OrderStatusSold represents a listing whose sale contract was bought out
	OrderStatusSold OrderStatus = "sold"
	// OrderStatusCanceled represents a listing withdrawn by its owner
	OrderStatusCanceled OrderStatus = "canceled"
)

// IsTerminal reports whether no further transition is allowed from the status
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSold || s == OrderStatusCanceled
}

// CanTransitionTo reports whether moving from s to next is a legal forward transition.
// Only active -> sold and active -> canceled are allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusActive && next.IsTerminal()
}

// Valid reports whether the status is one of the persisted statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusActive, OrderStatusSold, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// SaleState represents the logical state of a sale contract as read from chain.
// It is never persisted.
type SaleState string

const (
	// SaleStateActive means the sale slot of the contract is still populated
	SaleStateActive SaleState = "active"
	// SaleStateNotActive means the sale data collapsed, i.e. the item was bought or withdrawn
	SaleStateNotActive SaleState = "not_active"
	// SaleStateError means the state could not be determined
	SaleStateError SaleState = "error"
)

// AnnouncementKind identifies the channel message type
type AnnouncementKind string

const (
	// AnnouncementNew announces a freshly admitted listing
	AnnouncementNew AnnouncementKind = "new"
	// AnnouncementSold announces a confirmed sale
	AnnouncementSold AnnouncementKind = "sold"
)

// MarketEventKind identifies an archived market event
type MarketEventKind string

const (
	MarketEventListed   MarketEventKind = "listed"
	MarketEventSold     MarketEventKind = "sold"
	MarketEventCanceled MarketEventKind = "canceled"
)

// UndefinedWallet is the literal sentinel some clients send when no referrer is known
const UndefinedWallet = "undefined"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

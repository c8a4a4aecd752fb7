package state

import (
	"github.com/google/uuid"
)

// OrderSide of a dark pool limit order.
type OrderSide int32

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

func (s OrderSide) String() string {
	if s == OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

// OrderStatus is the dark pool order lifecycle.
type OrderStatus int32

const (
	OrderStatusNone OrderStatus = iota
	OrderStatusOpen
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
)

func (os OrderStatus) String() string {
	switch os {
	case OrderStatusNone:
		return "None"
	case OrderStatusOpen:
		return "Open"
	case OrderStatusPartiallyFilled:
		return "PartiallyFilled"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Cancellable reports whether the order may still be pulled.
func (os OrderStatus) Cancellable() bool {
	return os == OrderStatusOpen || os == OrderStatusPartiallyFilled
}

// Matchable reports whether a dark pool match may fill the order.
func (os OrderStatus) Matchable() bool {
	return os == OrderStatusOpen || os == OrderStatusPartiallyFilled
}

// DarkPoolOrder is a user's single resting hidden limit order. Placing a
// new order overwrites the slot.
type DarkPoolOrder struct {
	Maker uuid.UUID
	Side  OrderSide

	EncryptedAmount EncryptedAmount
	PriceCommitment EncryptedAmount

	Status    OrderStatus
	CreatedAt int64
	UpdatedAt int64
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (o *DarkPoolOrder) Clone() *DarkPoolOrder {
	cp := *o
	return &cp
}

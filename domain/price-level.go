package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ApplyMethod tells the book how an incoming level must be merged.
type ApplyMethod int

const (
	// Straight levels carry the resulting qty at the price; qty 0 deletes.
	Straight ApplyMethod = iota
	// OrderLog levels carry a signed qty delta for one exchange order.
	OrderLog
	// DeleteAheadPrice levels remove everything better than the price.
	DeleteAheadPrice
)

func (m ApplyMethod) String() string {
	switch m {
	case Straight:
		return "straight"
	case OrderLog:
		return "orderLog"
	case DeleteAheadPrice:
		return "deleteAheadPrice"
	default:
		return fmt.Sprintf("ApplyMethod(%d)", int(m))
	}
}

func (m ApplyMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ApplyMethod) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "straight":
		*m = Straight
	case "orderLog":
		*m = OrderLog
	case "deleteAheadPrice":
		*m = DeleteAheadPrice
	default:
		return fmt.Errorf("unknown apply method %q", string(text))
	}
	return nil
}

// PriceLevel is the wire-level unit produced by connectors.
type PriceLevel[T comparable] struct {
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	Id          T               `json:"id"`
	ApplyMethod ApplyMethod     `json:"applyMethod"`
}

func NewPriceLevel[T comparable](price, qty decimal.Decimal, id T, method ApplyMethod) PriceLevel[T] {
	return PriceLevel[T]{
		Price:       price,
		Qty:         qty,
		Id:          id,
		ApplyMethod: method,
	}
}

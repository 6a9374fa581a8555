package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Order is the book-resident aggregate of one price level.
type Order[T comparable] struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
	Id    T
}

func (o Order[T]) String() string {
	return fmt.Sprintf("P=%s Q=%s", o.Price, o.Qty)
}

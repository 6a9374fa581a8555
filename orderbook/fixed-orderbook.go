package orderbook

import (
	"fmt"
	"strings"
	"sync"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
)

// FixedOrderBook keeps the top NumLevels rows of each side for venues that
// stream full top-N snapshots. Row 0 is the best level. A row with zero price
// is the stop level: nothing below it is real data.
type FixedOrderBook[T comparable] struct {
	BaseOrderBook

	mu          sync.RWMutex
	numLevels   int
	bids        []Order[T]
	asks        []Order[T]
	bidsUpdated bool
	asksUpdated bool
}

func NewFixedOrderBook[T comparable](numLevels int) (*FixedOrderBook[T], error) {
	if numLevels <= 0 {
		return nil, fmt.Errorf("%w: number of levels must be positive, got %d", ErrArgument, numLevels)
	}

	return &FixedOrderBook[T]{
		numLevels: numLevels,
		bids:      make([]Order[T], numLevels),
		asks:      make([]Order[T], numLevels),
	}, nil
}

func (b *FixedOrderBook[T]) NumLevels() int {
	return b.numLevels
}

// Update overwrites one row and zeroes the row below it, so that the written
// row is the deepest confirmed level until a later update says otherwise.
func (b *FixedOrderBook[T]) Update(side domain.OrderSide, row int, price decimal.Decimal, qty decimal.Decimal) error {
	if row < 0 || row >= b.numLevels {
		return fmt.Errorf("%w: row %d is outside of %d levels", ErrArgument, row, b.numLevels)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rows := b.rowsOf(side)
	rows[row] = Order[T]{Price: price, Qty: qty}
	if row+1 < b.numLevels {
		rows[row+1] = Order[T]{}
	}

	if side == domain.Buy {
		b.bidsUpdated = true
	} else {
		b.asksUpdated = true
	}

	return nil
}

// TrySetFalseUpdated reports whether both sides were written since the last
// reset and, if so, starts a new batch.
func (b *FixedOrderBook[T]) TrySetFalseUpdated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.bidsUpdated || !b.asksUpdated {
		return false
	}

	b.bidsUpdated = false
	b.asksUpdated = false
	return true
}

func (b *FixedOrderBook[T]) ResetUpdatedFlags() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bidsUpdated = false
	b.asksUpdated = false
}

func (b *FixedOrderBook[T]) IsUpdated(side domain.OrderSide) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if side == domain.Buy {
		return b.bidsUpdated
	}
	return b.asksUpdated
}

func (b *FixedOrderBook[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.bids {
		b.bids[i] = Order[T]{}
		b.asks[i] = Order[T]{}
	}
	b.bidsUpdated = false
	b.asksUpdated = false
	b.resetPrev()
}

func (b *FixedOrderBook[T]) BestBid() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bids[0].Price
}

func (b *FixedOrderBook[T]) BestAsk() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.asks[0].Price
}

func (b *FixedOrderBook[T]) BestBidQty() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bids[0].Qty
}

func (b *FixedOrderBook[T]) BestAskQty() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.asks[0].Qty
}

func (b *FixedOrderBook[T]) GetOneSideVwap(side domain.OrderSide, vwapQty decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.vwap(side, vwapQty)
}

func (b *FixedOrderBook[T]) BidsString() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return dumpRows(b.liveRows(domain.Buy))
}

func (b *FixedOrderBook[T]) AsksString() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return dumpRows(b.liveRows(domain.Sell))
}

// Top returns a copy of the rows above the stop level.
func (b *FixedOrderBook[T]) Top(side domain.OrderSide) []Order[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.liveRows(side)
	result := make([]Order[T], len(live))
	copy(result, live)

	return result
}

func (b *FixedOrderBook[T]) currentPrices(useVwap bool, vwapQty decimal.Decimal) bookPrices {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prices := bookPrices{
		bestBid: b.bids[0].Price,
		bestAsk: b.asks[0].Price,
	}
	if useVwap {
		prices.bidVwap = b.vwap(domain.Buy, vwapQty)
		prices.askVwap = b.vwap(domain.Sell, vwapQty)
	}

	return prices
}

func (b *FixedOrderBook[T]) rowsOf(side domain.OrderSide) []Order[T] {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

func (b *FixedOrderBook[T]) liveRows(side domain.OrderSide) []Order[T] {
	rows := b.rowsOf(side)
	for i, row := range rows {
		if row.Price.IsZero() {
			return rows[:i]
		}
	}
	return rows
}

func (b *FixedOrderBook[T]) vwap(side domain.OrderSide, vwapQty decimal.Decimal) decimal.Decimal {
	if !vwapQty.IsPositive() {
		return decimal.Zero
	}

	acc := newVwapAccumulator(vwapQty)
	for _, row := range b.liveRows(side) {
		if !acc.add(row.Price, row.Qty) {
			break
		}
	}

	return acc.result()
}

func dumpRows[T comparable](rows []Order[T]) string {
	var sb strings.Builder
	for _, row := range rows {
		if !row.Qty.IsZero() {
			fmt.Fprintf(&sb, "P=%s Q=%s\n", row.Price, row.Qty)
		}
	}
	return sb.String()
}

package orderbook

import (
	"sync"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
)

// VWAP results are truncated (never rounded) to this many fractional digits.
const vwapPrecision = 10

// Book is the read surface shared by the unlimited and the fixed book.
type Book interface {
	BestBid() decimal.Decimal
	BestAsk() decimal.Decimal
	BestBidQty() decimal.Decimal
	BestAskQty() decimal.Decimal
	GetOneSideVwap(side domain.OrderSide, vwapQty decimal.Decimal) decimal.Decimal
	BidsString() string
	AsksString() string
	Clear()

	currentPrices(useVwap bool, vwapQty decimal.Decimal) bookPrices
	base() *BaseOrderBook
}

type bookPrices struct {
	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	bidVwap decimal.Decimal
	askVwap decimal.Decimal
}

// BaseOrderBook memoizes the prices last published downstream so that
// unchanged book states are not sent again.
type BaseOrderBook struct {
	prevMu      sync.Mutex
	prevBestBid decimal.Decimal
	prevBestAsk decimal.Decimal
	prevBidVwap decimal.Decimal
	prevAskVwap decimal.Decimal
}

func (b *BaseOrderBook) PrevBestBid() decimal.Decimal {
	b.prevMu.Lock()
	defer b.prevMu.Unlock()
	return b.prevBestBid
}

func (b *BaseOrderBook) PrevBestAsk() decimal.Decimal {
	b.prevMu.Lock()
	defer b.prevMu.Unlock()
	return b.prevBestAsk
}

func (b *BaseOrderBook) PrevVwaps() (bid decimal.Decimal, ask decimal.Decimal) {
	b.prevMu.Lock()
	defer b.prevMu.Unlock()
	return b.prevBidVwap, b.prevAskVwap
}

func (b *BaseOrderBook) resetPrev() {
	b.prevMu.Lock()
	defer b.prevMu.Unlock()

	b.prevBestBid = decimal.Zero
	b.prevBestAsk = decimal.Zero
	b.prevBidVwap = decimal.Zero
	b.prevAskVwap = decimal.Zero
}

func (b *BaseOrderBook) base() *BaseOrderBook {
	return b
}

// vwapAccumulator walks levels from the best price inward until the target
// qty is filled, consuming the last level pro rata.
type vwapAccumulator struct {
	target   decimal.Decimal
	volume   decimal.Decimal
	notional decimal.Decimal
}

func newVwapAccumulator(target decimal.Decimal) *vwapAccumulator {
	return &vwapAccumulator{
		target:   target,
		volume:   decimal.Zero,
		notional: decimal.Zero,
	}
}

// add consumes one level and reports whether more levels are needed.
func (a *vwapAccumulator) add(price decimal.Decimal, qty decimal.Decimal) bool {
	if qty.IsPositive() {
		take := decimal.Min(qty, a.target.Sub(a.volume))
		a.notional = a.notional.Add(price.Mul(take))
		a.volume = a.volume.Add(take)
	}

	return a.volume.LessThan(a.target)
}

func (a *vwapAccumulator) result() decimal.Decimal {
	if !a.volume.IsPositive() {
		return decimal.Zero
	}

	return truncatedQuotient(a.notional, a.volume)
}

// truncatedQuotient is floor(num/den * 10^vwapPrecision) / 10^vwapPrecision
// for positive operands.
func truncatedQuotient(num decimal.Decimal, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, vwapPrecision)
	return q
}

// crossedBy reports whether the best level on side is crossed by price
// coming from the opposite side.
func crossedBy(side domain.OrderSide, price decimal.Decimal, best decimal.Decimal) bool {
	if side == domain.Sell {
		return price.GreaterThanOrEqual(best)
	}
	return price.LessThanOrEqual(best)
}

// aheadOf reports whether level is strictly better than price on side.
func aheadOf(side domain.OrderSide, price decimal.Decimal, level decimal.Decimal) bool {
	if side == domain.Sell {
		return level.LessThan(price)
	}
	return level.GreaterThan(price)
}

package orderbook

import (
	"fmt"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApplyParams describes how a venue's updates are checked.
type ApplyParams struct {
	// ErrorThreshold is the number of recorded errors within the error
	// window that marks the book as broken. Zero disables the check.
	ErrorThreshold int
	// CheckCross enables crossed-book healing. Venues with legitimately
	// crossed books (OTC quote streams) disable it.
	CheckCross bool
}

// ApplySnapshot replaces the whole book content with the message levels.
// Readers never observe a partially applied snapshot.
func ApplySnapshot[T comparable](msg *domain.BookMessage[T], book *UnlimitedOrderBook[T]) error {
	book.mu.Lock()
	defer book.mu.Unlock()

	book.clear()

	for _, level := range msg.Bids {
		if err := book.applySnapshotLevel(domain.Buy, level); err != nil {
			return err
		}
	}
	for _, level := range msg.Asks {
		if err := book.applySnapshotLevel(domain.Sell, level); err != nil {
			return err
		}
	}

	return nil
}

// ApplyUpdate applies an incremental message, heals a book crossed by one
// side and trips ErrOrderBookBroken when healing is impossible or the book
// error rate is too high. The whole message is applied under the book lock.
func ApplyUpdate[T comparable](msg *domain.BookMessage[T], book *UnlimitedOrderBook[T], params ApplyParams) error {
	book.mu.Lock()
	defer book.mu.Unlock()

	lastBestBid := book.bestPrice(domain.Buy)
	lastBestAsk := book.bestPrice(domain.Sell)

	bidsCrossed := false
	for _, level := range msg.Bids {
		crossed, err := book.applyPriceLevelUpdate(domain.Buy, level, lastBestBid, lastBestAsk)
		if err != nil {
			return err
		}
		bidsCrossed = bidsCrossed || crossed
	}

	asksCrossed := false
	for _, level := range msg.Asks {
		crossed, err := book.applyPriceLevelUpdate(domain.Sell, level, lastBestBid, lastBestAsk)
		if err != nil {
			return err
		}
		asksCrossed = asksCrossed || crossed
	}

	if !params.CheckCross {
		return nil
	}

	if bidsCrossed && asksCrossed {
		book.logger.Error("both sides crossed by one update",
			zap.Int64("sequence", msg.Sequence),
			zap.Stringer("lastBestBid", lastBestBid), zap.Stringer("lastBestAsk", lastBestAsk))
		return fmt.Errorf("%w: both sides crossed by update %d (best bid %s, best ask %s before it)",
			ErrOrderBookBroken, msg.Sequence, lastBestBid, lastBestAsk)
	}

	if bidsCrossed {
		book.matchDownToPrice(domain.Sell, book.bestPrice(domain.Buy))
	} else if asksCrossed {
		book.matchDownToPrice(domain.Buy, book.bestPrice(domain.Sell))
	}

	if params.ErrorThreshold > 0 {
		if count := book.errors.Count(); count >= params.ErrorThreshold {
			book.errors.Clear()
			book.logger.Error("book error threshold reached",
				zap.Int("errors", count), zap.Duration("window", book.errors.Window()))
			return fmt.Errorf("%w: %d book errors within %s", ErrOrderBookBroken, count, book.errors.Window())
		}
	}

	return nil
}

// ApplyPriceLevelUpdate merges one level into the book according to its
// apply method and reports whether it crosses the opposite side as it was
// before the message.
func ApplyPriceLevelUpdate[T comparable](
	side domain.OrderSide,
	level domain.PriceLevel[T],
	book *UnlimitedOrderBook[T],
	lastBestBid decimal.Decimal,
	lastBestAsk decimal.Decimal,
) (bool, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	return book.applyPriceLevelUpdate(side, level, lastBestBid, lastBestAsk)
}

// ArePricesNew reports whether the best prices (and VWAPs when useVwap is
// set) differ from the last published ones. With setPrevValues the current
// values become the last published ones.
func ArePricesNew(book Book, setPrevValues bool, useVwap bool, vwapQty decimal.Decimal) bool {
	current := book.currentPrices(useVwap, vwapQty)

	base := book.base()
	base.prevMu.Lock()
	defer base.prevMu.Unlock()

	isNew := !current.bestBid.Equal(base.prevBestBid) || !current.bestAsk.Equal(base.prevBestAsk)
	if useVwap {
		isNew = isNew || !current.bidVwap.Equal(base.prevBidVwap) || !current.askVwap.Equal(base.prevAskVwap)
	}

	if setPrevValues {
		base.prevBestBid = current.bestBid
		base.prevBestAsk = current.bestAsk
		if useVwap {
			base.prevBidVwap = current.bidVwap
			base.prevAskVwap = current.askVwap
		}
	}

	return isNew
}

func (b *UnlimitedOrderBook[T]) applySnapshotLevel(side domain.OrderSide, level domain.PriceLevel[T]) error {
	if level.ApplyMethod == domain.OrderLog {
		return b.insertDeleteOrUpdateQty(side, level.Price, level.Qty, level.Id)
	}
	return b.insert(side, level.Price, level.Qty, level.Id)
}

func (b *UnlimitedOrderBook[T]) applyPriceLevelUpdate(
	side domain.OrderSide,
	level domain.PriceLevel[T],
	lastBestBid decimal.Decimal,
	lastBestAsk decimal.Decimal,
) (bool, error) {
	var err error

	switch level.ApplyMethod {
	case domain.OrderLog:
		err = b.insertDeleteOrUpdateQty(side, level.Price, level.Qty, level.Id)
	case domain.DeleteAheadPrice:
		if level.Price.IsZero() {
			b.sideOf(side).reset()
		} else {
			b.deleteLevelsAheadPrice(side, level.Price)
			b.update(side, level.Qty, level.Id)
		}
	default:
		if level.Qty.IsZero() {
			err = b.delete(side, level.Id)
		} else {
			err = b.insertOrUpdate(side, level.Price, level.Qty, level.Id)
		}
	}

	if err != nil {
		return false, err
	}

	return isCrossingLevel(side, level.Price, level.Qty, lastBestBid, lastBestAsk), nil
}

func isCrossingLevel(side domain.OrderSide, price, qty, lastBestBid, lastBestAsk decimal.Decimal) bool {
	if !price.IsPositive() || !qty.IsPositive() {
		return false
	}

	if side == domain.Buy {
		return lastBestAsk.IsPositive() && price.GreaterThanOrEqual(lastBestAsk)
	}
	return lastBestBid.IsPositive() && price.LessThanOrEqual(lastBestBid)
}

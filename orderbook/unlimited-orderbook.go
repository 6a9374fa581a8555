package orderbook

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

const (
	DefaultErrorWindow        = 10 * time.Second
	DefaultErrorQueueCapacity = 1024
)

type BookConfig struct {
	Isin string
	// UseMatching lets Delete reconcile ids whose level was already removed
	// by MatchDownToPrice or DeleteByPrice.
	UseMatching        bool
	ErrorWindow        time.Duration
	ErrorQueueCapacity int
	Logger             *zap.Logger
	// OnError is called under the book lock for every recorded error.
	OnError func(BookError)
}

// bookSide is one side of an aggregated book. The B-tree owns the Order
// records, ordered best first; byID only remembers the current price of an
// exchange id.
type bookSide[T comparable] struct {
	side   domain.OrderSide
	less   func(a, b *Order[T]) bool
	levels *btree.BTreeG[*Order[T]]
	byID   map[T]decimal.Decimal

	// prices removed by matching before the feed deleted their ids
	removedWhileMatching []decimal.Decimal
}

func newBookSide[T comparable](side domain.OrderSide) *bookSide[T] {
	less := func(a, b *Order[T]) bool {
		return a.Price.LessThan(b.Price)
	}
	if side == domain.Buy {
		less = func(a, b *Order[T]) bool {
			return a.Price.GreaterThan(b.Price)
		}
	}

	return &bookSide[T]{
		side:   side,
		less:   less,
		levels: btree.NewBTreeG(less),
		byID:   make(map[T]decimal.Decimal),
	}
}

func (s *bookSide[T]) best() (*Order[T], bool) {
	return s.levels.Min()
}

func (s *bookSide[T]) get(price decimal.Decimal) (*Order[T], bool) {
	return s.levels.Get(&Order[T]{Price: price})
}

// lookup resolves an id to its order. indexed is true when the id is known
// even if its price level is already gone.
func (s *bookSide[T]) lookup(id T) (order *Order[T], indexed bool) {
	price, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	order, found := s.get(price)
	if !found || order.Id != id {
		return nil, true
	}

	return order, true
}

// removeLevel drops a level together with its id entry.
func (s *bookSide[T]) removeLevel(order *Order[T]) {
	s.levels.Delete(order)

	if price, ok := s.byID[order.Id]; ok && price.Equal(order.Price) {
		delete(s.byID, order.Id)
	}
}

func (s *bookSide[T]) takeRemovedWhileMatching(price decimal.Decimal) bool {
	for i, p := range s.removedWhileMatching {
		if p.Equal(price) {
			s.removedWhileMatching = append(s.removedWhileMatching[:i], s.removedWhileMatching[i+1:]...)
			return true
		}
	}

	return false
}

// forget drops an id whose level is already gone, together with the
// pending match entry of its price.
func (s *bookSide[T]) forget(id T) {
	price, ok := s.byID[id]
	if !ok {
		return
	}

	delete(s.byID, id)
	s.takeRemovedWhileMatching(price)
}

func (s *bookSide[T]) reset() {
	s.levels = btree.NewBTreeG(s.less)
	s.byID = make(map[T]decimal.Decimal)
	s.removedWhileMatching = nil
}

func (s *bookSide[T]) dump() string {
	var sb strings.Builder

	s.levels.Scan(func(order *Order[T]) bool {
		if !order.Qty.IsZero() {
			fmt.Fprintf(&sb, "P=%s Q=%s\n", order.Price, order.Qty)
		}
		return true
	})

	return sb.String()
}

// UnlimitedOrderBook is an aggregated depth-of-book: one Order per price per
// side, addressed either by price or by exchange id. A single lock guards
// both price maps and both id indexes; all multi-step operations run under it.
type UnlimitedOrderBook[T comparable] struct {
	BaseOrderBook

	Isin string

	mu          sync.RWMutex
	bids        *bookSide[T]
	asks        *bookSide[T]
	useMatching bool
	errors      *TimeCircularQueue[BookError]
	onError     func(BookError)
	logger      *zap.Logger
}

func NewUnlimitedOrderBook[T comparable](cfg BookConfig) *UnlimitedOrderBook[T] {
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = DefaultErrorWindow
	}
	if cfg.ErrorQueueCapacity <= 0 {
		cfg.ErrorQueueCapacity = DefaultErrorQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &UnlimitedOrderBook[T]{
		Isin:        cfg.Isin,
		bids:        newBookSide[T](domain.Buy),
		asks:        newBookSide[T](domain.Sell),
		useMatching: cfg.UseMatching,
		errors:      NewTimeCircularQueue[BookError](cfg.ErrorWindow, cfg.ErrorQueueCapacity),
		onError:     cfg.OnError,
		logger:      cfg.Logger.Named("orderbook").With(zap.String("isin", cfg.Isin)),
	}
}

// Errors exposes the time-windowed queue of recorded book errors.
func (b *UnlimitedOrderBook[T]) Errors() *TimeCircularQueue[BookError] {
	return b.errors
}

func (b *UnlimitedOrderBook[T]) ErrorsInWindow() int {
	return b.errors.Count()
}

func (b *UnlimitedOrderBook[T]) Insert(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insert(side, price, qty, id)
}

func (b *UnlimitedOrderBook[T]) Update(side domain.OrderSide, qty decimal.Decimal, id T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.update(side, qty, id)
}

func (b *UnlimitedOrderBook[T]) InsertOrUpdate(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insertOrUpdate(side, price, qty, id)
}

// InsertDeleteOrUpdateQty applies an order-log record: qty is a signed delta.
func (b *UnlimitedOrderBook[T]) InsertDeleteOrUpdateQty(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.insertDeleteOrUpdateQty(side, price, qty, id)
}

func (b *UnlimitedOrderBook[T]) Delete(side domain.OrderSide, id T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.delete(side, id)
}

// MatchDownToPrice removes the best levels of side while they are crossed
// by price from the opposite side.
func (b *UnlimitedOrderBook[T]) MatchDownToPrice(side domain.OrderSide, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.matchDownToPrice(side, price)
}

// DeleteLevelsAheadPrice removes every level of side strictly better than price.
func (b *UnlimitedOrderBook[T]) DeleteLevelsAheadPrice(side domain.OrderSide, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleteLevelsAheadPrice(side, price)
}

// DeleteByPrice reduces the level at price by qty, used for trades reported
// by price instead of by id.
func (b *UnlimitedOrderBook[T]) DeleteByPrice(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleteByPrice(side, price, qty)
}

func (b *UnlimitedOrderBook[T]) ClearOneSide(side domain.OrderSide) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sideOf(side).reset()
}

func (b *UnlimitedOrderBook[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clear()
}

func (b *UnlimitedOrderBook[T]) BestBid() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bestPrice(domain.Buy)
}

func (b *UnlimitedOrderBook[T]) BestAsk() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bestPrice(domain.Sell)
}

func (b *UnlimitedOrderBook[T]) BestBidQty() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bestQty(domain.Buy)
}

func (b *UnlimitedOrderBook[T]) BestAskQty() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bestQty(domain.Sell)
}

// GetOneSideVwap returns the average price of the first vwapQty available on
// side, or of the whole side when it is shallower. Zero for an empty side.
func (b *UnlimitedOrderBook[T]) GetOneSideVwap(side domain.OrderSide, vwapQty decimal.Decimal) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.vwap(side, vwapQty)
}

func (b *UnlimitedOrderBook[T]) BidsString() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.bids.dump()
}

func (b *UnlimitedOrderBook[T]) AsksString() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.asks.dump()
}

// Top returns copies of the best depth levels of side, all when depth <= 0.
func (b *UnlimitedOrderBook[T]) Top(side domain.OrderSide, depth int) []Order[T] {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := b.sideOf(side)
	size := s.levels.Len()
	if depth > 0 && depth < size {
		size = depth
	}

	result := make([]Order[T], 0, size)
	s.levels.Scan(func(order *Order[T]) bool {
		result = append(result, *order)
		return len(result) < size
	})

	return result
}

func (b *UnlimitedOrderBook[T]) Depth(side domain.OrderSide) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.sideOf(side).levels.Len()
}

// MatchedLevelsPending is the number of prices removed by matching whose
// ids were not deleted by the feed yet. A growing value means matching and
// the feed disagree.
func (b *UnlimitedOrderBook[T]) MatchedLevelsPending() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.bids.removedWhileMatching) + len(b.asks.removedWhileMatching)
}

func (b *UnlimitedOrderBook[T]) currentPrices(useVwap bool, vwapQty decimal.Decimal) bookPrices {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prices := bookPrices{
		bestBid: b.bestPrice(domain.Buy),
		bestAsk: b.bestPrice(domain.Sell),
	}
	if useVwap {
		prices.bidVwap = b.vwap(domain.Buy, vwapQty)
		prices.askVwap = b.vwap(domain.Sell, vwapQty)
	}

	return prices
}

func (b *UnlimitedOrderBook[T]) sideOf(side domain.OrderSide) *bookSide[T] {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

func (b *UnlimitedOrderBook[T]) bestPrice(side domain.OrderSide) decimal.Decimal {
	if order, ok := b.sideOf(side).best(); ok {
		return order.Price
	}
	return decimal.Zero
}

func (b *UnlimitedOrderBook[T]) bestQty(side domain.OrderSide) decimal.Decimal {
	if order, ok := b.sideOf(side).best(); ok {
		return order.Qty
	}
	return decimal.Zero
}

func (b *UnlimitedOrderBook[T]) vwap(side domain.OrderSide, vwapQty decimal.Decimal) decimal.Decimal {
	if !vwapQty.IsPositive() {
		return decimal.Zero
	}

	acc := newVwapAccumulator(vwapQty)
	b.sideOf(side).levels.Scan(func(order *Order[T]) bool {
		return acc.add(order.Price, order.Qty)
	})

	return acc.result()
}

func (b *UnlimitedOrderBook[T]) recordError(e BookError, side domain.OrderSide, fields ...zap.Field) {
	b.errors.Push(e)
	if b.onError != nil {
		b.onError(e)
	}

	b.logger.Warn("book error", append([]zap.Field{zap.Stringer("error", e), zap.Stringer("side", side)}, fields...)...)
}

func (b *UnlimitedOrderBook[T]) insert(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	s := b.sideOf(side)

	if existing, ok := s.get(price); ok {
		return fmt.Errorf("%w: %s on %s: price %s already present with qty %s id %v",
			ErrArgument, InsertDuplicatePrice, side, price, existing.Qty, existing.Id)
	}
	if existingPrice, ok := s.byID[id]; ok {
		return fmt.Errorf("%w: %s on %s: id %v already present at price %s",
			ErrArgument, InsertDuplicateId, side, id, existingPrice)
	}

	s.levels.Set(&Order[T]{Price: price, Qty: qty, Id: id})
	s.byID[id] = price

	return nil
}

func (b *UnlimitedOrderBook[T]) update(side domain.OrderSide, qty decimal.Decimal, id T) {
	order, indexed := b.sideOf(side).lookup(id)
	if !indexed {
		b.recordError(UpdateNoId, side, zap.Any("id", id), zap.Stringer("qty", qty))
		return
	}
	if order == nil {
		b.recordError(UpdateNoPrice, side, zap.Any("id", id), zap.Stringer("qty", qty))
		return
	}

	order.Qty = qty
}

func (b *UnlimitedOrderBook[T]) insertOrUpdate(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	s := b.sideOf(side)

	order, indexed := s.lookup(id)
	if order != nil {
		// the id is authoritative, the price argument is ignored
		order.Qty = qty
		return nil
	}
	if indexed {
		s.forget(id)
	}

	if price.IsPositive() {
		return b.insert(side, price, qty, id)
	}

	return nil
}

func (b *UnlimitedOrderBook[T]) insertDeleteOrUpdateQty(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal, id T) error {
	s := b.sideOf(side)

	order, indexed := s.lookup(id)
	if order != nil {
		order.Qty = order.Qty.Add(qty)
		if !order.Qty.IsPositive() {
			s.removeLevel(order)
		}
		return nil
	}
	if indexed {
		s.forget(id)
	}

	if qty.IsPositive() {
		return b.insert(side, price, qty, id)
	}

	b.recordError(OrderLogNoId, side, zap.Any("id", id), zap.Stringer("price", price), zap.Stringer("qty", qty))
	return nil
}

func (b *UnlimitedOrderBook[T]) delete(side domain.OrderSide, id T) error {
	s := b.sideOf(side)

	price, ok := s.byID[id]
	if !ok {
		b.recordError(DeleteNoId, side, zap.Any("id", id))
		return nil
	}
	delete(s.byID, id)

	if order, found := s.get(price); found && order.Id == id {
		s.levels.Delete(order)
		return nil
	}

	if b.useMatching && s.takeRemovedWhileMatching(price) {
		return nil
	}

	return fmt.Errorf("%w: %s id %v points to price %s which is not in the book", ErrKeyNotFound, side, id, price)
}

func (b *UnlimitedOrderBook[T]) matchDownToPrice(side domain.OrderSide, price decimal.Decimal) {
	s := b.sideOf(side)

	best, ok := s.best()
	if !ok {
		b.recordError(MatchDownEmptyInitial, side, zap.Stringer("price", price))
		return
	}

	for crossedBy(side, price, best.Price) {
		if b.useMatching {
			// the id stays indexed so the feed's delete reconciles it
			s.levels.Delete(best)
			s.removedWhileMatching = append(s.removedWhileMatching, best.Price)
		} else {
			s.removeLevel(best)
		}
		b.logger.Debug("matched down level",
			zap.Stringer("side", side), zap.Stringer("level", best.Price), zap.Stringer("price", price))

		if best, ok = s.best(); !ok {
			b.recordError(MatchDownEmptyLoop, side, zap.Stringer("price", price))
			return
		}
	}
}

func (b *UnlimitedOrderBook[T]) deleteLevelsAheadPrice(side domain.OrderSide, price decimal.Decimal) {
	s := b.sideOf(side)

	best, ok := s.best()
	if !ok {
		b.recordError(DeleteAheadEmptyInitial, side, zap.Stringer("price", price))
		return
	}

	for aheadOf(side, price, best.Price) {
		s.removeLevel(best)

		if best, ok = s.best(); !ok {
			b.recordError(DeleteAheadEmptyLoop, side, zap.Stringer("price", price))
			return
		}
	}
}

func (b *UnlimitedOrderBook[T]) deleteByPrice(side domain.OrderSide, price decimal.Decimal, qty decimal.Decimal) {
	s := b.sideOf(side)

	order, ok := s.get(price)
	if !ok {
		b.recordError(DeleteByPriceNoLevel, side, zap.Stringer("price", price), zap.Stringer("qty", qty))
		return
	}

	order.Qty = order.Qty.Sub(qty)
	if order.Qty.IsPositive() {
		return
	}

	// the id stays indexed until the feed deletes it
	s.levels.Delete(order)
	s.removedWhileMatching = append(s.removedWhileMatching, price)
	b.recordError(MatchedPriceLevel, side, zap.Stringer("price", price), zap.Any("id", order.Id))
}

func (b *UnlimitedOrderBook[T]) clear() {
	b.bids.reset()
	b.asks.reset()
	b.resetPrev()
}

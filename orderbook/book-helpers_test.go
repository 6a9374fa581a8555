package orderbook

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(by time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(by)
}

func level[T comparable](price, qty string, id T) domain.PriceLevel[T] {
	return domain.NewPriceLevel(d(price), d(qty), id, domain.Straight)
}

var defaultParams = ApplyParams{ErrorThreshold: 20, CheckCross: true}

func TestApplySnapshot(t *testing.T) {
	// Mock data for testing
	book := newTestBook[int64](false)
	snapshot := &domain.BookMessage[int64]{
		Isin:     "XBTUSD",
		Sequence: 10,
		Bids:     []domain.PriceLevel[int64]{level("100", "5", int64(1)), level("99", "3", int64(2))},
		Asks:     []domain.PriceLevel[int64]{level("101", "4", int64(3))},
	}

	require.NoError(t, ApplySnapshot(snapshot, book))
	bids, asks := book.BidsString(), book.AsksString()
	assert.Equal(t, "P=100 Q=5\nP=99 Q=3\n", bids)
	assert.Equal(t, "P=101 Q=4\n", asks)

	book.Clear()
	require.NoError(t, ApplySnapshot(snapshot, book))
	assert.Equal(t, bids, book.BidsString())
	assert.Equal(t, asks, book.AsksString())

	// a snapshot replaces the previous content
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("50", "1", int64(9))},
	}, book))
	assert.Equal(t, "P=50 Q=1\n", book.BidsString())
	assert.Empty(t, book.AsksString())
	assertIndexConsistent(t, book)
}

func TestApplySnapshot_OrderLog(t *testing.T) {
	book := newTestBook[string](false)
	snapshot := &domain.BookMessage[string]{
		Bids: []domain.PriceLevel[string]{
			domain.NewPriceLevel(d("100"), d("2"), "a", domain.OrderLog),
			domain.NewPriceLevel(d("100"), d("1"), "a", domain.OrderLog),
			domain.NewPriceLevel(d("99"), d("4"), "b", domain.OrderLog),
		},
	}

	require.NoError(t, ApplySnapshot(snapshot, book))
	assert.Equal(t, "P=100 Q=3\nP=99 Q=4\n", book.BidsString())
}

func TestApplySnapshot_DuplicatePrice(t *testing.T) {
	book := newTestBook[int64](false)
	snapshot := &domain.BookMessage[int64]{
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(3)), level("101", "1", int64(4))},
	}

	assert.ErrorIs(t, ApplySnapshot(snapshot, book), ErrArgument)
}

func TestApplyUpdate_Straight(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "5", int64(1)), level("99", "3", int64(2))},
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(3))},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "0", int64(1)), level("98", "2", int64(5))},
		Asks: []domain.PriceLevel[int64]{level("101", "1", int64(3))},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, "P=99 Q=3\nP=98 Q=2\n", book.BidsString())
	assert.Equal(t, "P=101 Q=1\n", book.AsksString())
	assertIndexConsistent(t, book)
}

func TestApplyUpdate_HealsCrossedBook(t *testing.T) {
	book := newTestBook[int64](true)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "5", int64(1)), level("99", "3", int64(2))},
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(3))},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("102", "2", int64(4))},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Empty(t, book.AsksString())
	assert.Equal(t, "P=102 Q=2\nP=100 Q=5\nP=99 Q=3\n", book.BidsString())
	assert.Equal(t, 1, book.MatchedLevelsPending())
	assert.Equal(t, []BookError{MatchDownEmptyLoop}, book.Errors().Items())
	assertIndexConsistent(t, book)

	// the venue deletes the healed ask later on
	err = ApplyUpdate(&domain.BookMessage[int64]{
		Asks: []domain.PriceLevel[int64]{level("101", "0", int64(3))},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, 0, book.MatchedLevelsPending())
	assert.Equal(t, []BookError{MatchDownEmptyLoop}, book.Errors().Items())
	assert.Empty(t, book.asks.byID)
}

func TestApplyUpdate_HealsCrossedBids(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "5", int64(1)), level("99", "3", int64(2))},
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(3)), level("102", "1", int64(4))},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Asks: []domain.PriceLevel[int64]{level("99.5", "2", int64(5))},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, "P=99 Q=3\n", book.BidsString())
	assert.Equal(t, "P=99.5 Q=2\nP=101 Q=4\nP=102 Q=1\n", book.AsksString())
	assert.Equal(t, 0, book.ErrorsInWindow())
}

func TestApplyUpdate_BothSidesCrossed(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "5", int64(1))},
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(2))},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Sequence: 11,
		Bids:     []domain.PriceLevel[int64]{level("101.5", "1", int64(3))},
		Asks:     []domain.PriceLevel[int64]{level("99.5", "1", int64(4))},
	}, book, defaultParams)

	assert.ErrorIs(t, err, ErrOrderBookBroken)
}

func TestApplyUpdate_WithoutCrossCheck(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("100", "5", int64(1))},
		Asks: []domain.PriceLevel[int64]{level("101", "4", int64(2))},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Bids: []domain.PriceLevel[int64]{level("101.5", "1", int64(3))},
		Asks: []domain.PriceLevel[int64]{level("99.5", "1", int64(4))},
	}, book, ApplyParams{ErrorThreshold: 1, CheckCross: false})

	require.NoError(t, err)
	assert.Equal(t, "101.5", book.BestBid().String())
	assert.Equal(t, "99.5", book.BestAsk().String())
}

func TestApplyUpdate_ErrorThreshold(t *testing.T) {
	clock := newFakeClock()
	book := NewUnlimitedOrderBook[int64](BookConfig{Isin: "XBTUSD", ErrorWindow: time.Second})
	book.Errors().SetClock(clock.Now)
	params := ApplyParams{ErrorThreshold: 3, CheckCross: true}

	book.Update(domain.Buy, d("1"), 101)
	clock.Advance(200 * time.Millisecond)
	book.Update(domain.Buy, d("1"), 102)
	require.NoError(t, ApplyUpdate(&domain.BookMessage[int64]{}, book, params))
	clock.Advance(300 * time.Millisecond)
	book.Update(domain.Buy, d("1"), 103)

	err := ApplyUpdate(&domain.BookMessage[int64]{}, book, params)
	assert.ErrorIs(t, err, ErrOrderBookBroken)
	assert.Equal(t, 0, book.ErrorsInWindow())
	assert.NoError(t, ApplyUpdate(&domain.BookMessage[int64]{}, book, params))
}

func TestApplyUpdate_ErrorsLeaveTheWindow(t *testing.T) {
	clock := newFakeClock()
	book := NewUnlimitedOrderBook[int64](BookConfig{Isin: "XBTUSD", ErrorWindow: time.Second})
	book.Errors().SetClock(clock.Now)
	params := ApplyParams{ErrorThreshold: 3, CheckCross: true}

	book.Update(domain.Buy, d("1"), 101)
	book.Update(domain.Buy, d("1"), 102)
	clock.Advance(time.Second)
	book.Update(domain.Buy, d("1"), 103)

	assert.Equal(t, 1, book.ErrorsInWindow())
	assert.NoError(t, ApplyUpdate(&domain.BookMessage[int64]{}, book, params))

	// a zero threshold never trips
	book.Update(domain.Buy, d("1"), 104)
	book.Update(domain.Buy, d("1"), 105)
	assert.NoError(t, ApplyUpdate(&domain.BookMessage[int64]{}, book, ApplyParams{CheckCross: true}))
}

func TestApplyUpdate_DeleteAheadPrice(t *testing.T) {
	book := newTestBook[string](false)
	require.NoError(t, ApplySnapshot(&domain.BookMessage[string]{
		Asks: []domain.PriceLevel[string]{level("100", "1", "a"), level("101", "2", "b"), level("102", "3", "c")},
	}, book))

	err := ApplyUpdate(&domain.BookMessage[string]{
		Asks: []domain.PriceLevel[string]{domain.NewPriceLevel(d("101"), d("5"), "b", domain.DeleteAheadPrice)},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, "P=101 Q=5\nP=102 Q=3\n", book.AsksString())
	assert.Equal(t, 0, book.ErrorsInWindow())
	assertIndexConsistent(t, book)

	// zero price empties the side
	err = ApplyUpdate(&domain.BookMessage[string]{
		Asks: []domain.PriceLevel[string]{domain.NewPriceLevel(decimal.Zero, decimal.Zero, "", domain.DeleteAheadPrice)},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, 0, book.Depth(domain.Sell))
}

func TestApplyUpdate_DeleteAheadZeroDropsMatchedLevels(t *testing.T) {
	book := newTestBook[int64](true)
	require.NoError(t, book.Insert(domain.Sell, d("101"), d("2"), 3))
	book.DeleteByPrice(domain.Sell, d("101"), d("2"))
	require.Equal(t, 1, book.MatchedLevelsPending())

	err := ApplyUpdate(&domain.BookMessage[int64]{
		Asks: []domain.PriceLevel[int64]{domain.NewPriceLevel(decimal.Zero, decimal.Zero, int64(0), domain.DeleteAheadPrice)},
	}, book, defaultParams)

	require.NoError(t, err)
	assert.Equal(t, 0, book.MatchedLevelsPending())

	// the old id no longer reconciles against the emptied side
	require.NoError(t, book.Insert(domain.Sell, d("101"), d("1"), 5))
	require.NoError(t, book.Delete(domain.Sell, 3))
	assert.Equal(t, []BookError{MatchedPriceLevel, DeleteNoId}, book.Errors().Items())
	assert.Equal(t, "P=101 Q=1\n", book.AsksString())
}

func TestApplyPriceLevelUpdate(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, book.Insert(domain.Buy, d("100"), d("5"), 1))
	require.NoError(t, book.Insert(domain.Sell, d("101"), d("4"), 2))

	tests := []struct {
		name    string
		side    domain.OrderSide
		level   domain.PriceLevel[int64]
		crossed bool
	}{
		{"bid below ask", domain.Buy, level("99", "1", int64(3)), false},
		{"bid at ask", domain.Buy, level("101", "1", int64(4)), true},
		{"ask above bid", domain.Sell, level("102", "1", int64(5)), false},
		{"ask at bid", domain.Sell, level("100", "1", int64(6)), true},
		{"deletion never crosses", domain.Buy, level("101", "0", int64(4)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crossed, err := ApplyPriceLevelUpdate(tt.side, tt.level, book, d("100"), d("101"))
			require.NoError(t, err)
			assert.Equal(t, tt.crossed, crossed)
		})
	}

	crossed, err := ApplyPriceLevelUpdate(domain.Buy, level("200", "1", int64(7)), book, d("100"), decimal.Zero)
	require.NoError(t, err)
	assert.False(t, crossed, "an empty opposite side cannot be crossed")
}

func TestArePricesNew(t *testing.T) {
	book := newTestBook[int64](false)
	require.NoError(t, book.Insert(domain.Buy, d("100"), d("5"), 1))
	require.NoError(t, book.Insert(domain.Sell, d("101"), d("4"), 2))

	assert.True(t, ArePricesNew(book, false, false, decimal.Zero))
	assert.True(t, ArePricesNew(book, true, true, d("2")))
	assert.False(t, ArePricesNew(book, true, true, d("2")))
	assert.Equal(t, "100", book.PrevBestBid().String())

	// the best price is unchanged but the vwap moves
	require.NoError(t, book.Insert(domain.Sell, d("103"), d("4"), 3))
	assert.False(t, ArePricesNew(book, false, false, decimal.Zero))
	assert.True(t, ArePricesNew(book, true, true, d("5")))

	book.Update(domain.Buy, d("6"), 1)
	assert.False(t, ArePricesNew(book, false, true, d("5")), "qty at best alone is not a price change")
}

func TestApplyUpdate_ConcurrentReaders(t *testing.T) {
	book := newTestBook[int64](false)
	rnd := rand.New(rand.NewSource(11))

	done := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				bid, ask := book.BestBid(), book.BestAsk()
				if bid.IsPositive() && ask.IsPositive() {
					assert.True(t, bid.LessThan(ask), "crossed read: bid %s ask %s", bid, ask)
				}
				book.GetOneSideVwap(domain.Sell, d("3"))
				book.BidsString()
			}
		}()
	}

	for i := 0; i < 3000; i++ {
		msg := &domain.BookMessage[int64]{Sequence: int64(i + 1)}
		for j := 0; j < 3; j++ {
			bid := int64(rnd.Intn(10) + 90)
			ask := int64(rnd.Intn(10) + 101)
			msg.Bids = append(msg.Bids, domain.NewPriceLevel(decimal.NewFromInt(bid), decimal.NewFromInt(int64(rnd.Intn(3))), bid, domain.Straight))
			msg.Asks = append(msg.Asks, domain.NewPriceLevel(decimal.NewFromInt(ask), decimal.NewFromInt(int64(rnd.Intn(3))), ask, domain.Straight))
		}
		require.NoError(t, ApplyUpdate(msg, book, ApplyParams{CheckCross: true}))
	}

	close(done)
	wg.Wait()
	assertIndexConsistent(t, book)
}

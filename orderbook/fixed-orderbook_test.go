package orderbook

import (
	"testing"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFixedOrderBook(t *testing.T) {
	_, err := NewFixedOrderBook[int64](0)
	assert.ErrorIs(t, err, ErrArgument)

	book, err := NewFixedOrderBook[int64](5)
	require.NoError(t, err)
	assert.Equal(t, 5, book.NumLevels())
	assert.True(t, book.BestBid().IsZero())
	assert.Empty(t, book.Top(domain.Buy))
}

func TestFixedOrderBook_Update(t *testing.T) {
	book, err := NewFixedOrderBook[int64](3)
	require.NoError(t, err)

	require.NoError(t, book.Update(domain.Sell, 0, d("101"), d("1")))
	require.NoError(t, book.Update(domain.Sell, 1, d("102"), d("2")))
	require.NoError(t, book.Update(domain.Sell, 2, d("103"), d("3")))
	assert.Equal(t, "P=101 Q=1\nP=102 Q=2\nP=103 Q=3\n", book.AsksString())
	assert.Equal(t, "101", book.BestAsk().String())
	assert.Equal(t, "1", book.BestAskQty().String())

	// a shorter update shrinks the visible book
	require.NoError(t, book.Update(domain.Sell, 0, d("100.5"), d("4")))
	assert.Equal(t, "P=100.5 Q=4\n", book.AsksString())
	assert.Len(t, book.Top(domain.Sell), 1)

	assert.ErrorIs(t, book.Update(domain.Buy, 3, d("99"), d("1")), ErrArgument)
	assert.ErrorIs(t, book.Update(domain.Buy, -1, d("99"), d("1")), ErrArgument)
}

func TestFixedOrderBook_Vwap(t *testing.T) {
	book, err := NewFixedOrderBook[int64](4)
	require.NoError(t, err)

	require.NoError(t, book.Update(domain.Buy, 0, d("2"), d("1")))
	require.NoError(t, book.Update(domain.Buy, 1, d("1"), d("2")))

	assert.True(t, book.GetOneSideVwap(domain.Buy, d("3")).Equal(d("1.3333333333")))
	assert.True(t, book.GetOneSideVwap(domain.Buy, d("100")).Equal(d("1.3333333333")))
	assert.True(t, book.GetOneSideVwap(domain.Buy, d("1")).Equal(d("2")))
	assert.True(t, book.GetOneSideVwap(domain.Sell, d("1")).IsZero())
}

func TestFixedOrderBook_UpdatedFlags(t *testing.T) {
	book, err := NewFixedOrderBook[int64](2)
	require.NoError(t, err)

	require.NoError(t, book.Update(domain.Buy, 0, d("100"), d("1")))
	assert.True(t, book.IsUpdated(domain.Buy))
	assert.False(t, book.TrySetFalseUpdated(), "asks were not written yet")

	require.NoError(t, book.Update(domain.Sell, 0, d("101"), d("1")))
	assert.True(t, book.TrySetFalseUpdated())
	assert.False(t, book.IsUpdated(domain.Buy))
	assert.False(t, book.TrySetFalseUpdated())

	require.NoError(t, book.Update(domain.Sell, 0, d("101"), d("2")))
	book.ResetUpdatedFlags()
	assert.False(t, book.IsUpdated(domain.Sell))
}

func TestFixedOrderBook_ClearAndPrices(t *testing.T) {
	book, err := NewFixedOrderBook[int64](2)
	require.NoError(t, err)

	require.NoError(t, book.Update(domain.Buy, 0, d("100"), d("1")))
	require.NoError(t, book.Update(domain.Sell, 0, d("101"), d("1")))
	assert.True(t, ArePricesNew(book, true, false, decimal.Zero))
	assert.False(t, ArePricesNew(book, true, false, decimal.Zero))

	book.Clear()
	assert.Empty(t, book.BidsString())
	assert.True(t, book.PrevBestAsk().IsZero())
	assert.False(t, ArePricesNew(book, false, false, decimal.Zero))
}

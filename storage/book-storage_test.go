package storage

import (
	"testing"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/paulbir/TokenTraderPublic-sub001/orderbook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookStorage(t *testing.T) {
	// Mock data for testing
	s := NewBookStorage[string]()
	btc := domain.BookKey{Venue: "mock", Isin: "XBTUSD"}
	eth := domain.BookKey{Venue: "mock", Isin: "ETHUSD"}
	other := domain.BookKey{Venue: "other", Isin: "XBTUSD"}

	_, err := s.Get(btc)
	assert.ErrorIs(t, err, ErrOrderBookNotFound)

	book := orderbook.NewUnlimitedOrderBook[string](orderbook.BookConfig{Isin: btc.Isin})
	s.Add(btc, book)
	s.Add(eth, orderbook.NewUnlimitedOrderBook[string](orderbook.BookConfig{Isin: eth.Isin}))
	s.Add(other, orderbook.NewUnlimitedOrderBook[string](orderbook.BookConfig{Isin: other.Isin}))

	got, err := s.Get(btc)
	require.NoError(t, err)
	assert.Same(t, book, got)

	assert.Equal(t, 2, s.Count("mock"))
	assert.Equal(t, 0, s.Count("missing"))
	assert.Equal(t, []domain.BookKey{eth, btc, other}, s.Keys())

	assert.True(t, s.Remove(btc))
	assert.False(t, s.Remove(btc))
	assert.True(t, s.Remove(other))
	assert.Equal(t, []domain.BookKey{eth}, s.Keys())
}

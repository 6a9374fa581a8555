package promclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookMetrics(t *testing.T) {
	m := NewBookMetrics()
	key := domain.BookKey{Venue: "mock", Isin: "XBTUSD"}

	m.ObserveBookError(key, "DeleteNoId")
	m.ObserveBookError(key, "DeleteNoId")
	m.ObserveResync(key, "broken")
	m.SetMatchedLevelsPending(key, 4)
	m.SetOpenOrderBooks("mock", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BookErrors.WithLabelValues("mock", "XBTUSD", "DeleteNoId")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resyncs.WithLabelValues("mock", "XBTUSD", "broken")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.MatchedLevelsPending.WithLabelValues("mock", "XBTUSD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenOrderBooks.WithLabelValues("mock")))
}

func TestBookMetrics_Nil(t *testing.T) {
	var m *BookMetrics

	assert.NotPanics(t, func() {
		m.ObserveBookError(domain.BookKey{}, "x")
		m.ObserveResync(domain.BookKey{}, "x")
		m.SetMatchedLevelsPending(domain.BookKey{}, 1)
		m.SetOpenOrderBooks("x", 1)
	})
}

func TestBookMetrics_Handler(t *testing.T) {
	m := NewBookMetrics()
	m.SetOpenOrderBooks("mock", 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `bookbridge_open_order_books{venue="mock"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

package promclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "bookbridge"

// BookMetrics groups the book maintenance collectors. A nil *BookMetrics is
// valid and records nothing.
type BookMetrics struct {
	registry *prometheus.Registry

	BookErrors           *prometheus.CounterVec
	Resyncs              *prometheus.CounterVec
	MatchedLevelsPending *prometheus.GaugeVec
	OpenOrderBooks       *prometheus.GaugeVec
}

func NewBookMetrics() *BookMetrics {
	m := &BookMetrics{
		registry: prometheus.NewRegistry(),
		BookErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_errors_total",
			Help:      "recoverable order book errors",
		}, []string{"venue", "isin", "error"}),
		Resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_resyncs_total",
			Help:      "order book resyncs",
		}, []string{"venue", "isin", "reason"}),
		MatchedLevelsPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matched_levels_pending",
			Help:      "levels removed by matching whose ids were not deleted by the feed yet",
		}, []string{"venue", "isin"}),
		OpenOrderBooks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_order_books",
			Help:      "live order books",
		}, []string{"venue"}),
	}

	m.registry.MustRegister(m.BookErrors)
	m.registry.MustRegister(m.Resyncs)
	m.registry.MustRegister(m.MatchedLevelsPending)
	m.registry.MustRegister(m.OpenOrderBooks)
	m.registry.MustRegister(collectors.NewGoCollector())

	return m
}

func (m *BookMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *BookMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *BookMetrics) ObserveBookError(key domain.BookKey, name string) {
	if m == nil {
		return
	}
	m.BookErrors.WithLabelValues(key.Venue, key.Isin, name).Inc()
}

func (m *BookMetrics) ObserveResync(key domain.BookKey, reason string) {
	if m == nil {
		return
	}
	m.Resyncs.WithLabelValues(key.Venue, key.Isin, reason).Inc()
}

func (m *BookMetrics) SetMatchedLevelsPending(key domain.BookKey, n int) {
	if m == nil {
		return
	}
	m.MatchedLevelsPending.WithLabelValues(key.Venue, key.Isin).Set(float64(n))
}

func (m *BookMetrics) SetOpenOrderBooks(venue string, n int) {
	if m == nil {
		return
	}
	m.OpenOrderBooks.WithLabelValues(venue).Set(float64(n))
}

// StartPromClientServer serves /metrics on addr until ctx is cancelled.
func StartPromClientServer(ctx context.Context, addr string, m *BookMetrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Named("promclient").Info("prometheus server listening", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

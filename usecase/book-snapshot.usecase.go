package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	promclient "github.com/paulbir/TokenTraderPublic-sub001/infrastructure/prometheus"
	"github.com/paulbir/TokenTraderPublic-sub001/maintainer"
	"github.com/paulbir/TokenTraderPublic-sub001/orderbook"
	"github.com/paulbir/TokenTraderPublic-sub001/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const STARTING = "starting"

var ErrBookInitializing = errors.New("order book is initializing")

// FeedSource resolves the feed of a venue.
type FeedSource[T comparable] interface {
	Feed(venue string) (domain.BookFeed[T], error)
}

// BookSettings are the per-book knobs shared by every book of the process.
type BookSettings struct {
	UseMatching           bool
	ErrorWindow           time.Duration
	ErrorQueueCapacity    int
	ErrorThreshold        int
	CheckCross            bool
	OutOfSequenceLimit    int
	MatchedLevelsWarnSize int
	ResyncDelay           time.Duration
}

// errorQueueCapacity leaves room for at least ErrorThreshold errors, so the
// threshold can always be reached inside the window.
func (s BookSettings) errorQueueCapacity() int {
	capacity := s.ErrorQueueCapacity
	if capacity <= 0 {
		capacity = orderbook.DefaultErrorQueueCapacity
	}
	if s.ErrorThreshold > capacity {
		return s.ErrorThreshold
	}
	return capacity
}

type BookSnapshotUseCase[T comparable] struct {
	feeds          FeedSource[T]
	storage        *storage.BookStorage[T]
	settings       BookSettings
	metrics        *promclient.BookMetrics
	onStatusChange func(key domain.BookKey, live bool)
	rootLogger     *zap.Logger
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	waitingRoom sync.Map
	maintainers sync.Map
}

type Option[T comparable] func(*BookSnapshotUseCase[T])

func WithMetrics[T comparable](metrics *promclient.BookMetrics) Option[T] {
	return func(u *BookSnapshotUseCase[T]) {
		u.metrics = metrics
	}
}

// WithStatusListener is notified whenever a book becomes live or starts a
// resync.
func WithStatusListener[T comparable](fn func(key domain.BookKey, live bool)) Option[T] {
	return func(u *BookSnapshotUseCase[T]) {
		u.onStatusChange = fn
	}
}

func WithLogger[T comparable](logger *zap.Logger) Option[T] {
	return func(u *BookSnapshotUseCase[T]) {
		u.rootLogger = logger
	}
}

func NewBookSnapshotUseCase[T comparable](feeds FeedSource[T], settings BookSettings, opts ...Option[T]) *BookSnapshotUseCase[T] {
	ctx, cancel := context.WithCancel(context.Background())

	u := &BookSnapshotUseCase[T]{
		feeds:      feeds,
		storage:    storage.NewBookStorage[T](),
		settings:   settings,
		rootLogger: zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.rootLogger.Named("book-snapshot-usecase")

	return u
}

func (u *BookSnapshotUseCase[T]) Storage() *storage.BookStorage[T] {
	return u.storage
}

// GetBookSnapshot returns the local book view. A book that is not live yet
// is started in the background and ErrBookInitializing is returned.
func (u *BookSnapshotUseCase[T]) GetBookSnapshot(
	ctx context.Context, key domain.BookKey, depth int, vwapQty decimal.Decimal,
) (*domain.BookSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, ok := u.waitingRoom.Load(key); ok {
		return nil, ErrBookInitializing
	}

	book, err := u.storage.Get(key)
	if err != nil {
		if err := u.StartBook(key); err != nil {
			return nil, err
		}
		return nil, ErrBookInitializing
	}

	if m, ok := u.maintainers.Load(key); ok && !m.(*maintainer.OrderbookMaintainer[T]).IsLive() {
		return nil, ErrBookInitializing
	}

	return takeSnapshot(key, book, depth, vwapQty), nil
}

// StartBook starts maintaining key unless it is already maintained.
func (u *BookSnapshotUseCase[T]) StartBook(key domain.BookKey) error {
	feed, err := u.feeds.Feed(key.Venue)
	if err != nil {
		return err
	}

	if _, loaded := u.waitingRoom.LoadOrStore(key, STARTING); loaded {
		return nil
	}
	if _, err := u.storage.Get(key); err == nil {
		u.waitingRoom.Delete(key)
		return nil
	}

	book := orderbook.NewUnlimitedOrderBook[T](orderbook.BookConfig{
		Isin:               key.Isin,
		UseMatching:        u.settings.UseMatching,
		ErrorWindow:        u.settings.ErrorWindow,
		ErrorQueueCapacity: u.settings.errorQueueCapacity(),
		Logger:             u.rootLogger.With(zap.String("venue", key.Venue)),
		OnError: func(e orderbook.BookError) {
			u.metrics.ObserveBookError(key, e.String())
		},
	})

	m := maintainer.NewOrderbookMaintainer[T](key, feed, book,
		orderbook.ApplyParams{ErrorThreshold: u.settings.ErrorThreshold, CheckCross: u.settings.CheckCross},
		maintainer.Options{
			OutOfSequenceLimit:    u.settings.OutOfSequenceLimit,
			MatchedLevelsWarnSize: u.settings.MatchedLevelsWarnSize,
			ResyncDelay:           u.settings.ResyncDelay,
			Metrics:               u.metrics,
			Logger:                u.rootLogger,
			OnStatusChange:        u.statusChanged(book),
		})
	u.maintainers.Store(key, m)

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.run(key, m)
	}()

	return nil
}

func (u *BookSnapshotUseCase[T]) run(key domain.BookKey, m *maintainer.OrderbookMaintainer[T]) {
	err := m.Run(u.ctx)

	u.maintainers.Delete(key)
	u.waitingRoom.Delete(key)
	if u.storage.Remove(key) {
		u.metrics.SetOpenOrderBooks(key.Venue, u.storage.Count(key.Venue))
	}

	if err != nil {
		u.logger.Error("order book maintainer failed", zap.Stringer("book", key), zap.Error(err))
		return
	}
	u.logger.Info("order book maintainer stopped", zap.Stringer("book", key))
}

func (u *BookSnapshotUseCase[T]) statusChanged(book *orderbook.UnlimitedOrderBook[T]) func(domain.BookKey, bool) {
	return func(key domain.BookKey, live bool) {
		if live {
			if _, err := u.storage.Get(key); err != nil {
				u.storage.Add(key, book)
				u.metrics.SetOpenOrderBooks(key.Venue, u.storage.Count(key.Venue))
				u.logger.Info("order book is added to the runtime storage", zap.Stringer("book", key))
			}
			u.waitingRoom.Delete(key)
		}

		if u.onStatusChange != nil {
			u.onStatusChange(key, live)
		}
	}
}

// Close stops every maintainer and waits for them.
func (u *BookSnapshotUseCase[T]) Close() {
	u.cancel()
	u.wg.Wait()
}

func takeSnapshot[T comparable](
	key domain.BookKey, book *orderbook.UnlimitedOrderBook[T], depth int, vwapQty decimal.Decimal,
) *domain.BookSnapshot {
	snapshot := &domain.BookSnapshot{
		Source:  domain.OrderBookSource_LocalOrderBook,
		Isin:    key.Isin,
		Bids:    serializeOrders(book.Top(domain.Buy, depth)),
		Asks:    serializeOrders(book.Top(domain.Sell, depth)),
		BestBid: book.BestBid().String(),
		BestAsk: book.BestAsk().String(),
		BidVwap: "0",
		AskVwap: "0",
	}

	if vwapQty.IsPositive() {
		snapshot.BidVwap = book.GetOneSideVwap(domain.Buy, vwapQty).String()
		snapshot.AskVwap = book.GetOneSideVwap(domain.Sell, vwapQty).String()
	}

	return snapshot
}

func serializeOrders[T comparable](orders []orderbook.Order[T]) [][]string {
	result := make([][]string, 0, len(orders))
	for _, order := range orders {
		result = append(result, []string{order.Price.String(), order.Qty.String()})
	}
	return result
}

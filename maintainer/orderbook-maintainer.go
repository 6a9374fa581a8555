package maintainer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/paulbir/TokenTraderPublic-sub001/helpers"
	promclient "github.com/paulbir/TokenTraderPublic-sub001/infrastructure/prometheus"
	"github.com/paulbir/TokenTraderPublic-sub001/orderbook"
	"go.uber.org/zap"
)

const DefaultOutOfSequenceLimit = 10

var (
	ErrOutOfSequenceLimit = errors.New("out of sequence updates limit reached")
	ErrStreamClosed       = errors.New("book stream closed")
)

// Resync reasons reported to metrics.
const (
	ReasonBroken        = "broken"
	ReasonArgument      = "argument"
	ReasonKeyNotFound   = "key_not_found"
	ReasonOutOfSequence = "out_of_sequence"
	ReasonStreamClosed  = "stream_closed"
	ReasonOther         = "other"
)

type Options struct {
	Validator domain.SequenceValidator
	// OutOfSequenceLimit is the number of consecutive out of sequence
	// updates tolerated before a resync.
	OutOfSequenceLimit int
	// MatchedLevelsWarnSize enables a warning once that many matched levels
	// wait for their deletes. Zero disables it.
	MatchedLevelsWarnSize int
	// ResyncDelay is waited before resubscribing.
	ResyncDelay    time.Duration
	Metrics        *promclient.BookMetrics
	Logger         *zap.Logger
	OnStatusChange func(key domain.BookKey, live bool)
}

// OrderbookMaintainer is the sole mutator of one book. It keeps the book in
// sync with a feed and rebuilds it from a fresh snapshot when the book can
// no longer be trusted.
type OrderbookMaintainer[T comparable] struct {
	key    domain.BookKey
	feed   domain.BookFeed[T]
	book   *orderbook.UnlimitedOrderBook[T]
	params orderbook.ApplyParams
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	queue  deque.Deque[*domain.BookEvent[T]]
	notify chan struct{}

	live    atomic.Bool
	resyncs atomic.Int64

	// applier state
	session            uuid.UUID
	sessionLogger      *zap.Logger
	lastSequence       int64
	outOfSequenceCount int
	matchedWarned      bool
}

func NewOrderbookMaintainer[T comparable](
	key domain.BookKey,
	feed domain.BookFeed[T],
	book *orderbook.UnlimitedOrderBook[T],
	params orderbook.ApplyParams,
	opts Options,
) *OrderbookMaintainer[T] {
	if opts.Validator == nil {
		opts.Validator = &domain.ContiguousSequenceValidator{}
	}
	if opts.OutOfSequenceLimit <= 0 {
		opts.OutOfSequenceLimit = DefaultOutOfSequenceLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.Named("maintainer").With(zap.Stringer("book", key))

	return &OrderbookMaintainer[T]{
		key:           key,
		feed:          feed,
		book:          book,
		params:        params,
		opts:          opts,
		logger:        logger,
		queue:         deque.Deque[*domain.BookEvent[T]]{},
		notify:        make(chan struct{}, 1),
		sessionLogger: logger,
	}
}

func (m *OrderbookMaintainer[T]) Key() domain.BookKey {
	return m.key
}

func (m *OrderbookMaintainer[T]) Book() *orderbook.UnlimitedOrderBook[T] {
	return m.book
}

// IsLive reports whether the book holds a snapshot of the current session.
func (m *OrderbookMaintainer[T]) IsLive() bool {
	return m.live.Load()
}

func (m *OrderbookMaintainer[T]) Resyncs() int64 {
	return m.resyncs.Load()
}

// Run maintains the book until ctx is cancelled. Only the first
// subscription failure is returned; later ones are retried.
func (m *OrderbookMaintainer[T]) Run(ctx context.Context) error {
	defer m.setLive(false)

	first := true
	for {
		sub, err := m.subscribe(ctx)
		if err != nil {
			if first {
				return fmt.Errorf("subscribe to %s: %w", m.key, err)
			}

			m.logger.Error("resubscribe failed", zap.Error(err))
			if !helpers.SleepContext(ctx, m.opts.ResyncDelay) {
				return nil
			}
			continue
		}
		first = false

		err = m.consume(ctx, sub)
		sub.Unsubscribe()

		if ctx.Err() != nil {
			return nil
		}

		m.resync(err)
		if !helpers.SleepContext(ctx, m.opts.ResyncDelay) {
			return nil
		}
	}
}

func (m *OrderbookMaintainer[T]) subscribe(ctx context.Context) (*domain.Subscription[*domain.BookEvent[T]], error) {
	m.session = uuid.New()
	m.sessionLogger = m.logger.With(zap.Stringer("session", m.session))

	sub, err := m.feed.BookStream(ctx, m.key.Isin)
	if err != nil {
		return nil, err
	}

	m.sessionLogger.Info("subscribed to book stream", zap.String("topic", sub.Topic))
	return sub, nil
}

// consume runs one session and returns the error that ended it.
func (m *OrderbookMaintainer[T]) consume(ctx context.Context, sub *domain.Subscription[*domain.BookEvent[T]]) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	readerDone := make(chan struct{})

	go m.read(sessionCtx, sub, readerDone)
	defer func() {
		cancel()
		<-readerDone
	}()

	for {
		select {
		case <-sessionCtx.Done():
			return sessionCtx.Err()
		case <-m.notify:
			if err := m.drain(); err != nil {
				return err
			}
		case <-readerDone:
			// apply what the reader queued before the stream ended
			if err := m.drain(); err != nil {
				return err
			}
			return ErrStreamClosed
		}
	}
}

func (m *OrderbookMaintainer[T]) read(ctx context.Context, sub *domain.Subscription[*domain.BookEvent[T]], done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Stream:
			if !ok {
				return
			}

			m.mu.Lock()
			m.queue.PushBack(event)
			m.mu.Unlock()

			select {
			case m.notify <- struct{}{}:
			default:
			}
		}
	}
}

func (m *OrderbookMaintainer[T]) drain() error {
	for {
		m.mu.Lock()
		if m.queue.Len() == 0 {
			m.mu.Unlock()
			return nil
		}
		event := m.queue.PopFront()
		m.mu.Unlock()

		if err := m.apply(event); err != nil {
			return err
		}
	}
}

func (m *OrderbookMaintainer[T]) apply(event *domain.BookEvent[T]) error {
	if event == nil || event.Message == nil {
		m.sessionLogger.Warn("empty book event skipped")
		return nil
	}
	msg := event.Message

	if event.Kind == domain.BookEventSnapshot {
		if err := orderbook.ApplySnapshot(msg, m.book); err != nil {
			return err
		}

		m.lastSequence = msg.Sequence
		m.outOfSequenceCount = 0
		m.setLive(true)
		m.sessionLogger.Info("snapshot applied",
			zap.Int64("sequence", msg.Sequence), zap.Int("bids", len(msg.Bids)), zap.Int("asks", len(msg.Asks)))
		return nil
	}

	if !m.live.Load() {
		m.sessionLogger.Debug("update before snapshot dropped", zap.Int64("sequence", msg.Sequence))
		return nil
	}

	if err := m.opts.Validator.IsValidUpd(msg.Sequence, m.lastSequence); err != nil {
		if m.opts.Validator.IsErrOutdated(err) {
			m.sessionLogger.Debug("outdated update dropped",
				zap.Int64("sequence", msg.Sequence), zap.Int64("last", m.lastSequence))
			return nil
		}

		if m.opts.Validator.IsErrOutOfSequence(err) {
			m.outOfSequenceCount++
			m.sessionLogger.Warn("out of sequence update dropped",
				zap.Int64("sequence", msg.Sequence), zap.Int64("last", m.lastSequence),
				zap.Int("count", m.outOfSequenceCount))

			if m.outOfSequenceCount > m.opts.OutOfSequenceLimit {
				return fmt.Errorf("%w: %d consecutive", ErrOutOfSequenceLimit, m.outOfSequenceCount)
			}
			return nil
		}

		return err
	}

	if err := orderbook.ApplyUpdate(msg, m.book, m.params); err != nil {
		return err
	}

	if msg.Sequence != 0 {
		m.lastSequence = msg.Sequence
	}
	m.outOfSequenceCount = 0
	m.observeMatchedLevels()

	return nil
}

func (m *OrderbookMaintainer[T]) observeMatchedLevels() {
	pending := m.book.MatchedLevelsPending()
	m.opts.Metrics.SetMatchedLevelsPending(m.key, pending)

	limit := m.opts.MatchedLevelsWarnSize
	if limit <= 0 {
		return
	}

	if pending > limit && !m.matchedWarned {
		m.sessionLogger.Warn("matched levels are not deleted by the feed",
			zap.Int("pending", pending), zap.Int("limit", limit))
		m.matchedWarned = true
	} else if pending <= limit {
		m.matchedWarned = false
	}
}

// resync drops everything learned in the ended session. The next session
// starts from the snapshot the venue streams after subscribing.
func (m *OrderbookMaintainer[T]) resync(cause error) {
	reason := resyncReason(cause)

	m.sessionLogger.Warn("resyncing order book", zap.String("reason", reason), zap.Error(cause))
	m.opts.Metrics.ObserveResync(m.key, reason)
	m.resyncs.Add(1)

	m.setLive(false)
	m.book.Clear()

	m.mu.Lock()
	m.queue.Clear()
	m.mu.Unlock()

	m.lastSequence = 0
	m.outOfSequenceCount = 0
	m.matchedWarned = false
	m.opts.Metrics.SetMatchedLevelsPending(m.key, 0)
}

func (m *OrderbookMaintainer[T]) setLive(live bool) {
	if m.live.Swap(live) == live {
		return
	}

	if m.opts.OnStatusChange != nil {
		m.opts.OnStatusChange(m.key, live)
	}
}

func resyncReason(err error) string {
	switch {
	case errors.Is(err, orderbook.ErrOrderBookBroken):
		return ReasonBroken
	case errors.Is(err, orderbook.ErrArgument):
		return ReasonArgument
	case errors.Is(err, orderbook.ErrKeyNotFound):
		return ReasonKeyNotFound
	case errors.Is(err, ErrOutOfSequenceLimit):
		return ReasonOutOfSequence
	case errors.Is(err, ErrStreamClosed):
		return ReasonStreamClosed
	default:
		return ReasonOther
	}
}

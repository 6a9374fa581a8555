package storage

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
	"github.com/paulbir/TokenTraderPublic-sub001/orderbook"
)

var ErrOrderBookNotFound = errors.New("order book not found")

// BookStorage is the runtime registry of live books, venue -> isin -> book.
type BookStorage[T comparable] struct {
	mu      sync.RWMutex
	storage map[string]map[string]*orderbook.UnlimitedOrderBook[T]
}

func NewBookStorage[T comparable]() *BookStorage[T] {
	return &BookStorage[T]{
		storage: make(map[string]map[string]*orderbook.UnlimitedOrderBook[T]),
	}
}

func (s *BookStorage[T]) Add(key domain.BookKey, book *orderbook.UnlimitedOrderBook[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.storage[key.Venue]; !ok {
		s.storage[key.Venue] = make(map[string]*orderbook.UnlimitedOrderBook[T])
	}

	s.storage[key.Venue][key.Isin] = book
}

func (s *BookStorage[T]) Get(key domain.BookKey) (*orderbook.UnlimitedOrderBook[T], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.storage[key.Venue][key.Isin]
	if !ok {
		return nil, ErrOrderBookNotFound
	}

	return book, nil
}

// Remove reports whether the key was present.
func (s *BookStorage[T]) Remove(key domain.BookKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	books, ok := s.storage[key.Venue]
	if !ok {
		return false
	}
	if _, ok := books[key.Isin]; !ok {
		return false
	}

	delete(books, key.Isin)
	if len(books) == 0 {
		delete(s.storage, key.Venue)
	}

	return true
}

// Keys returns the stored keys ordered by venue, then isin.
func (s *BookStorage[T]) Keys() []domain.BookKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]domain.BookKey, 0)
	for venue, books := range s.storage {
		for isin := range books {
			keys = append(keys, domain.BookKey{Venue: venue, Isin: isin})
		}
	}

	slices.SortFunc(keys, func(a, b domain.BookKey) int {
		if c := strings.Compare(a.Venue, b.Venue); c != 0 {
			return c
		}
		return strings.Compare(a.Isin, b.Isin)
	})

	return keys
}

func (s *BookStorage[T]) Count(venue string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.storage[venue])
}

package provider

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/paulbir/TokenTraderPublic-sub001/domain"
)

var ErrUnknownVenue = errors.New("unknown venue")

// FeedRegistry maps venue names to their book feeds.
type FeedRegistry[T comparable] struct {
	mu    sync.RWMutex
	feeds map[string]domain.BookFeed[T]
}

func NewFeedRegistry[T comparable]() *FeedRegistry[T] {
	return &FeedRegistry[T]{
		feeds: make(map[string]domain.BookFeed[T]),
	}
}

// Register adds or replaces the feed of venue. Venue names are case
// insensitive.
func (r *FeedRegistry[T]) Register(venue string, feed domain.BookFeed[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.feeds[normalizeVenue(venue)] = feed
}

func (r *FeedRegistry[T]) Feed(venue string) (domain.BookFeed[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	feed, ok := r.feeds[normalizeVenue(venue)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, venue)
	}

	return feed, nil
}

func (r *FeedRegistry[T]) Venues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	venues := make([]string, 0, len(r.feeds))
	for venue := range r.feeds {
		venues = append(venues, venue)
	}
	slices.Sort(venues)

	return venues
}

func normalizeVenue(venue string) string {
	return strings.ToLower(strings.TrimSpace(venue))
}

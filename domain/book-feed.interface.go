package domain

import "context"

// BookFeed is the connector side of the system: a producer of snapshot and
// update events for one instrument.
type BookFeed[T comparable] interface {
	BookStream(ctx context.Context, isin string) (*Subscription[*BookEvent[T]], error)
}

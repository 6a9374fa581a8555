package domain

import "fmt"

// BookMessage is either a full snapshot or an incremental update; which
// one is decided by the helper the caller invokes.
type BookMessage[T comparable] struct {
	Isin     string          `json:"isin"`
	Sequence int64           `json:"sequence"`
	Bids     []PriceLevel[T] `json:"bids"`
	Asks     []PriceLevel[T] `json:"asks"`
}

type BookEventKind int

const (
	BookEventSnapshot BookEventKind = iota
	BookEventUpdate
)

func (k BookEventKind) String() string {
	if k == BookEventSnapshot {
		return "snapshot"
	}
	return "update"
}

func (k BookEventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *BookEventKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "snapshot":
		*k = BookEventSnapshot
	case "update":
		*k = BookEventUpdate
	default:
		return fmt.Errorf("unknown book event kind %q", string(text))
	}
	return nil
}

// BookEvent is what a feed emits for one book.
type BookEvent[T comparable] struct {
	Kind    BookEventKind   `json:"type"`
	Message *BookMessage[T] `json:"data"`
}

type OrderBookSource string

const (
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

// BookSnapshot is the read-only view served to downstream consumers.
type BookSnapshot struct {
	Source  OrderBookSource `json:"source"`
	Isin    string          `json:"isin"`
	Bids    [][]string      `json:"bids"`
	Asks    [][]string      `json:"asks"`
	BestBid string          `json:"bestBid"`
	BestAsk string          `json:"bestAsk"`
	BidVwap string          `json:"bidVwap"`
	AskVwap string          `json:"askVwap"`
}

package orderbook

import (
	"errors"
	"fmt"
)

var (
	// ErrArgument is returned when a feed violates an operation precondition
	// (duplicate price or id on insert, row outside of a fixed book).
	ErrArgument = errors.New("order book argument error")
	// ErrKeyNotFound is returned when an id points to a price that is gone
	// from the price map and cannot be reconciled.
	ErrKeyNotFound = errors.New("order book key not found")
	// ErrOrderBookBroken means the book can no longer be trusted and has to
	// be rebuilt from a fresh snapshot.
	ErrOrderBookBroken = errors.New("order book is broken")
)

// BookError tags a recoverable book anomaly. Recorded errors are pushed to
// the book error queue; they never abort the operation that found them.
type BookError int

const (
	UpdateNoId BookError = iota
	UpdateNoPrice
	DeleteNoId
	OrderLogNoId
	MatchDownEmptyInitial
	MatchDownEmptyLoop
	DeleteAheadEmptyInitial
	DeleteAheadEmptyLoop
	MatchedPriceLevel
	DeleteByPriceNoLevel
	InsertDuplicatePrice
	InsertDuplicateId
)

var bookErrorNames = map[BookError]string{
	UpdateNoId:              "UpdateNoId",
	UpdateNoPrice:           "UpdateNoPrice",
	DeleteNoId:              "DeleteNoId",
	OrderLogNoId:            "OrderLogNoId",
	MatchDownEmptyInitial:   "MatchDownEmptyInitial",
	MatchDownEmptyLoop:      "MatchDownEmptyLoop",
	DeleteAheadEmptyInitial: "DeleteAheadEmptyInitial",
	DeleteAheadEmptyLoop:    "DeleteAheadEmptyLoop",
	MatchedPriceLevel:       "MatchedPriceLevel",
	DeleteByPriceNoLevel:    "DeleteByPriceNoLevel",
	InsertDuplicatePrice:    "InsertDuplicatePrice",
	InsertDuplicateId:       "InsertDuplicateId",
}

func (e BookError) String() string {
	if name, ok := bookErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("BookError(%d)", int(e))
}

package domain

import (
	"fmt"
	"strings"
)

const bookKeySeparator = ":"

// BookKey identifies one book instance: an instrument on a venue.
type BookKey struct {
	Venue string
	Isin  string
}

func NewBookKey(venue string, isin string) (*BookKey, error) {
	venue = strings.ToLower(strings.TrimSpace(venue))
	isin = strings.TrimSpace(isin)

	if venue == "" || isin == "" {
		return nil, fmt.Errorf("venue and isin must not be empty")
	}
	if strings.Contains(venue, bookKeySeparator) {
		return nil, fmt.Errorf("venue must not contain %q", bookKeySeparator)
	}

	return &BookKey{
		Venue: venue,
		Isin:  isin,
	}, nil
}

func NewBookKeyFromString(s string) (*BookKey, error) {
	split := strings.SplitN(s, bookKeySeparator, 2)

	if len(split) != 2 {
		return nil, fmt.Errorf("invalid book key string")
	}

	return NewBookKey(split[0], split[1])
}

func (k BookKey) String() string {
	return fmt.Sprintf("%s%s%s", k.Venue, bookKeySeparator, k.Isin)
}

func (k *BookKey) Equal(other *BookKey) bool {
	return k.Venue == other.Venue && k.Isin == other.Isin
}

package helpers

import (
	"context"
	"math/rand"
	"time"
)

// SleepContext waits for d and reports false when ctx ended first.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// RandomRequestID returns an id for websocket control requests.
func RandomRequestID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}

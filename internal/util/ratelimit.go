package util

import (
	"time"

	"golang.org/x/time/rate"
)

// NewRateLimiter returns a limiter that admits perMinute calls per minute,
// one at a time. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

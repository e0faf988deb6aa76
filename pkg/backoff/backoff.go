package backoff

import (
	"math"
	"time"
)

// Exponential returns min(base*2^(attempt-1), max). Attempts below 1 are
// treated as the first attempt.
func Exponential(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := float64(base) * mul
	if d >= float64(max) || math.IsInf(d, 1) {
		return max
	}
	return time.Duration(d)
}

package relay

import "time"

const (
	backoffExponentCap = 8
	backoffCeiling     = 300 * time.Second
)

// Backoff returns the delay scheduled after the given number of failed
// submission attempts. Exponential, capped at 2^8 seconds, bounded by the
// 300 s ceiling.
func Backoff(retryCount int) time.Duration {
	exp := retryCount
	if exp > backoffExponentCap {
		exp = backoffExponentCap
	}
	delay := time.Duration(1<<uint(exp)) * time.Second
	if delay > backoffCeiling {
		delay = backoffCeiling
	}
	return delay
}

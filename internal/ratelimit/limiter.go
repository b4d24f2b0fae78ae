package ratelimit

import "context"

// RateLimiter paces outbound gateway sends per key. Wait blocks until a send
// is permitted or ctx ends.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

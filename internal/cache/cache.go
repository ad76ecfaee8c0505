package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort byte store. Callers must tolerate misses and
// errors; cached state is never authoritative.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

package cache

import (
	"context"
	"fmt"
	"time"
)

// QueryKey identifies a question in the exact-match tier.
// Hash is sha256 of the raw question text.
type QueryKey struct {
	Hash string
}

// String converts the structured key into the final string used in Redis/map.
func (k QueryKey) String() string {
	// qa:<HASH_HEX>
	return fmt.Sprintf("qa:%s", k.Hash)
}

// Entry is the value stored per key: the question that produced the answer
// plus the answer itself, serialized as JSON.
type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ExactCache is the interface used by the resolver.
// Implemented by memory cache (dev) and Redis cache (prod).
type ExactCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

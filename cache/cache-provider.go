package cache

import (
	"math"
	"time"

	"golang.org/x/xerrors"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent raw HTTP responses,
// keyed by the request target address.
// Entries expire a fixed time after they were stored and the number of live
// entries is bounded; the least recently used entry is evicted first.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Get returns the cached response for the given key, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	// If the cache entry has expired, the boolean should be false
	// and the provider must purge the entry.
	// A successful Get marks the entry as most recently used.
	Get(key string) ([]byte, bool, error)
	// Put stores the given response in the cache under the given key,
	// replacing any existing entry and evicting the least recently used
	// entry if the cache is full.
	Put(key string, bytes []byte) error
	// Purge removes the cache entry for the given key.
	// It is a utility method that is not used by the proxy pipeline.
	Purge(key string) error
	// Keys returns all stored keys, most recently used first.
	// It does not change the recency order.
	Keys() ([]string, error)
}

// ErrInvalidCapacity is returned when a cache is created without room for
// at least one entry.
var ErrInvalidCapacity = xerrors.New("cache capacity must be positive")

// ErrInvalidExpiration is returned for an expiration window that is negative
// or does not fit in a time.Duration.
var ErrInvalidExpiration = xerrors.New("cache expiration out of range")

const day = 24 * time.Hour

// MaxExpirationDays is the longest expiration window a cache accepts.
const MaxExpirationDays = int64(math.MaxInt64 / int64(day))

// expirationWindow converts a window in days to a duration.
func expirationWindow(days int64) (time.Duration, error) {
	if days < 0 || days > MaxExpirationDays {
		return 0, ErrInvalidExpiration
	}
	return time.Duration(days) * day, nil
}

// isExpired reports whether an entry created at createdAt is older than the window.
// An entry exactly window old is still fresh.
func isExpired(createdAt, now time.Time, window time.Duration) bool {
	return now.Sub(createdAt) > window
}

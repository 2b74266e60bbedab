package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openagora/agora/internal/kv"
)

// CacheTTL is how long a cached response stays retryable.
const CacheTTL = 5 * time.Minute

// Cache stores the serialized response of the first successful execution of an
// idempotent operation, keyed by (operation, identity, nonce).
//
// For operations declared idempotent the cache lookup runs before the generic
// replay guard: a cache hit short-circuits the request with the original
// response so a legitimate retry is never mistaken for an attack. The nonce is
// the sole correlation key; a retry with a different body still gets the first
// response, because the first body received is authoritative.
type Cache struct {
	store kv.Store
}

// NewCache creates an idempotency cache over the shared key-value store.
func NewCache(store kv.Store) *Cache {
	return &Cache{store: store}
}

// Lookup returns the cached response bytes for this retry key, or found=false.
func (c *Cache) Lookup(ctx context.Context, operation, identity, nonce string) (response []byte, found bool, err error) {
	value, err := c.store.Get(ctx, cacheKey(operation, identity, nonce))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("lookup idempotency record: %w", err)
	}
	return []byte(value), true, nil
}

// Store records the response of a successfully committed execution. It must be
// called only after the mutation has durably committed; a crash between commit
// and Store is recovered by the ledger store's own idempotent-write semantics,
// not by this cache.
func (c *Cache) Store(ctx context.Context, operation, identity, nonce string, response []byte) error {
	if err := c.store.Set(ctx, cacheKey(operation, identity, nonce), string(response), CacheTTL); err != nil {
		return fmt.Errorf("store idempotency record: %w", err)
	}
	return nil
}

func cacheKey(operation, identity, nonce string) string {
	return "idem:" + operation + ":" + identity + ":" + nonce
}

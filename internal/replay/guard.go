// Package replay implements the two anti-replay mechanisms of the write path:
// the short-lived nonce guard and the longer-lived idempotency cache. The two
// operate at different time scales and are deliberately kept distinct; see
// Cache for the precedence rule on idempotent operations.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/openagora/agora/internal/kv"
)

// Window is how long a nonce stays consumed. It matches the timestamp
// tolerance so an expired nonce can never be replayed with a live timestamp.
const Window = 60 * time.Second

// TimestampTolerance bounds request clock skew in both directions.
const TimestampTolerance = 60 * time.Second

// Guard rejects nonce reuse within the replay window.
type Guard struct {
	store kv.Store
}

// NewGuard creates a replay guard over the shared key-value store.
func NewGuard(store kv.Store) *Guard {
	return &Guard{store: store}
}

// CheckAndMark consumes scopeKey, reporting true exactly once per unique key
// within the window. It must run after signature verification succeeds and
// before any side effect, so guard state never leaks signature validity.
func (g *Guard) CheckAndMark(ctx context.Context, identity, nonce string) (bool, error) {
	fresh, err := g.store.SetIfAbsent(ctx, guardKey(identity, nonce), "1", Window)
	if err != nil {
		return false, fmt.Errorf("mark nonce: %w", err)
	}
	return fresh, nil
}

// CheckTimestamp reports whether a request timestamp (unix milliseconds) falls
// within the tolerance window around now. This check is independent of, and
// runs before, any nonce bookkeeping.
func CheckTimestamp(now time.Time, timestampMillis int64) bool {
	ts := time.UnixMilli(timestampMillis)
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	return drift <= TimestampTolerance
}

func guardKey(identity, nonce string) string {
	return "replay:" + identity + ":" + nonce
}

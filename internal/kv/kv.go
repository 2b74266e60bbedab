// Package kv defines the expiring key-value store backing the replay guard,
// the idempotency cache, and the claim-token machine. The ledger store never
// lives here; this store is authoritative only for short-lived request state.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports that a key is absent or has expired.
var ErrNotFound = errors.New("kv: key not found")

// ConsumeResult describes the outcome of an atomic compare-and-swap consume.
type ConsumeResult string

const (
	// ConsumeOK means the key matched and was rewritten to the replacement.
	ConsumeOK ConsumeResult = "ok"
	// ConsumeMismatch means the key exists but holds a different value.
	ConsumeMismatch ConsumeResult = "mismatch"
	// ConsumeMissing means the key is absent or expired.
	ConsumeMissing ConsumeResult = "missing"
)

// Store is an expiring key-value store with the two atomic primitives the
// write path depends on: conditional set (replay marking) and
// compare-and-swap (claim-token consumption).
type Store interface {
	// SetIfAbsent writes key=value with the given TTL only when the key does
	// not already exist. It reports whether the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set writes key=value unconditionally with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value for key, or ErrNotFound when absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// ConsumeIfEquals atomically compares the key's value against expect and,
	// on a match, rewrites it to replacement while preserving the remaining
	// TTL. The read-compare-write runs as a single unit; two racing callers
	// can never both observe ConsumeOK.
	ConsumeIfEquals(ctx context.Context, key, expect, replacement string) (ConsumeResult, error)
}

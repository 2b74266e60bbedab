// Package claim implements the single-use topic claim token: a bearer
// credential that binds topic ownership to the first identity that redeems it.
package claim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/kv"
)

// TokenTTL is how long an issued claim token stays redeemable.
const TokenTTL = 300 * time.Second

// consumedSentinel replaces a redeemed token's value. Keeping the record alive
// (with its remaining TTL) lets a second redemption attempt be reported as
// invalid rather than expired, which would wrongly suggest a plain timeout.
const consumedSentinel = "__consumed__"

// Result is the outcome of a redemption attempt.
type Result string

const (
	// ResultValid: the token matched and has now been consumed.
	ResultValid Result = "valid"
	// ResultInvalid: a record exists but the token mismatches, or the token
	// was already consumed.
	ResultInvalid Result = "invalid"
	// ResultExpired: no record exists for the topic (TTL lapsed or never issued).
	ResultExpired Result = "expired"
)

// Machine manages the claim-token lifecycle for topics.
type Machine struct {
	store kv.Store
}

// NewMachine creates a claim-token machine over the shared key-value store.
func NewMachine(store kv.Store) *Machine {
	return &Machine{store: store}
}

// Issue mints a fresh claim token for topicID, replacing any live one.
func (m *Machine) Issue(ctx context.Context, topicID string) (token string, err error) {
	token = uuid.NewString()
	if err := m.store.Set(ctx, tokenKey(topicID), token, TokenTTL); err != nil {
		return "", fmt.Errorf("issue claim token: %w", err)
	}
	return token, nil
}

// Redeem attempts to consume the claim token for topicID.
//
// The compare-and-consume runs as a single atomic unit in the store; two
// callers racing the same token can never both observe ResultValid. On
// success the record is rewritten to the consumption sentinel with whatever
// TTL remained — never extended.
func (m *Machine) Redeem(ctx context.Context, topicID, token string) (Result, error) {
	// The sentinel is a storage artifact, never a redeemable token. Without
	// this rejection a caller presenting the sentinel literal would match the
	// stored value of an already-consumed record and win the compare-and-swap.
	if token == "" || token == consumedSentinel {
		return ResultInvalid, nil
	}
	outcome, err := m.store.ConsumeIfEquals(ctx, tokenKey(topicID), token, consumedSentinel)
	if err != nil {
		return "", fmt.Errorf("redeem claim token: %w", err)
	}
	switch outcome {
	case kv.ConsumeOK:
		return ResultValid, nil
	case kv.ConsumeMismatch:
		return ResultInvalid, nil
	case kv.ConsumeMissing:
		return ResultExpired, nil
	default:
		return "", errors.New("redeem claim token: unexpected consume outcome")
	}
}

func tokenKey(topicID string) string {
	return "claim:" + topicID
}

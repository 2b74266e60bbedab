// Package storage defines the persistence interfaces for the write-path
// engine. The ledger store is the single source of truth for balances,
// stakes, and argument aggregates; implementations must apply each mutation
// as one atomic unit.
package storage

import (
	"context"
	"time"

	"github.com/openagora/agora/internal/domain/ledger"
	"github.com/openagora/agora/internal/domain/topic"
)

// SetVotesParams identifies one stake transition.
type SetVotesParams struct {
	TopicID     string
	ArgumentID  string
	Identity    string
	TargetVotes int
	Now         time.Time
}

// SetVotesResult reports the applied transition and the refreshed ledger view.
type SetVotesResult struct {
	Delta    ledger.Delta
	Ledger   ledger.Ledger
	Argument topic.Argument
}

// CreateArgumentParams describes argument creation composed with an initial stake.
type CreateArgumentParams struct {
	TopicID      string
	ParentID     string
	Content      string
	Identity     string
	InitialVotes int
	// Nonce keys the idempotent insert: a retried create with the same nonce
	// returns the originally created argument instead of inserting twice.
	Nonce string
	Now   time.Time
}

// CreateArgumentResult reports the created (or recovered) argument and the
// stake transition applied with it.
type CreateArgumentResult struct {
	Argument topic.Argument
	Replayed bool // true when the nonce matched an existing argument
	Votes    *SetVotesResult
}

// LedgerStore is the transactional core storage surface.
type LedgerStore interface {
	// GetLedger returns the ledger for (topicID, identity), creating it with
	// the initial balance on first access.
	GetLedger(ctx context.Context, topicID, identity string) (ledger.Ledger, error)

	// GetStake returns the stake for (topicID, argumentID, identity). Absence
	// is reported as a zero-vote stake, not an error.
	GetStake(ctx context.Context, topicID, argumentID, identity string) (ledger.Stake, error)

	// SetVotes applies one stake transition atomically: gating, balance
	// check, ledger debit/credit, stake upsert or delete, and argument
	// aggregate adjustment commit together or not at all.
	SetVotes(ctx context.Context, params SetVotesParams) (SetVotesResult, error)

	// CreateArgument inserts an argument and applies its initial stake in the
	// same transaction; an insufficient balance leaves neither behind.
	CreateArgument(ctx context.Context, params CreateArgumentParams) (CreateArgumentResult, error)

	// ClaimTopic records identity as the topic owner.
	ClaimTopic(ctx context.Context, topicID, identity string, now time.Time) (topic.Topic, error)
}

// TopicStore is the read/seed surface used by collaborating services and tests.
type TopicStore interface {
	PutTopic(ctx context.Context, t topic.Topic) error
	GetTopic(ctx context.Context, topicID string) (topic.Topic, error)
	PutArgument(ctx context.Context, arg topic.Argument) error
	GetArgument(ctx context.Context, topicID, argumentID string) (topic.Argument, error)
}

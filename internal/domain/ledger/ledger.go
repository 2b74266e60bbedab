// Package ledger defines the quadratic-voting economy: per-(topic, identity)
// balances and per-argument stakes, with the cost law cost(v) = v².
package ledger

import (
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/openagora/agora/internal/platform/errors"
)

// InitialBalance is granted lazily on a ledger's first read or write.
const InitialBalance = 100

// MaxVotes caps the votes a single identity can stake on one argument.
const MaxVotes = 10

// Ledger tracks one identity's balance and aggregate stake within a topic.
// Invariant: Balance + TotalCostStaked == InitialBalance at all times.
type Ledger struct {
	TopicID           string
	Identity          string
	Balance           int
	TotalVotesStaked  int
	TotalCostStaked   int
	LastInteractionAt *time.Time
}

// New returns a freshly initialized ledger for (topicID, identity).
func New(topicID, identity string) Ledger {
	return Ledger{
		TopicID:  topicID,
		Identity: identity,
		Balance:  InitialBalance,
	}
}

// CheckInvariant verifies the balance conservation law.
func (l Ledger) CheckInvariant() error {
	if l.Balance < 0 || l.TotalVotesStaked < 0 || l.TotalCostStaked < 0 {
		return fmt.Errorf("ledger %s/%s has negative fields", l.TopicID, l.Identity)
	}
	if l.Balance+l.TotalCostStaked != InitialBalance {
		return fmt.Errorf(
			"ledger %s/%s violates conservation: balance %d + staked %d != %d",
			l.TopicID, l.Identity, l.Balance, l.TotalCostStaked, InitialBalance,
		)
	}
	return nil
}

// Stake is one identity's vote allocation to a single argument. Absence is the
// canonical zero state; a Stake row only exists while Votes > 0.
type Stake struct {
	TopicID    string
	ArgumentID string
	Identity   string
	Votes      int
	Cost       int
}

// Cost returns the quadratic cost of a vote count.
func Cost(votes int) int {
	return votes * votes
}

// ValidateVotes rejects targets outside [0, MaxVotes].
func ValidateVotes(votes int) error {
	if votes < 0 || votes > MaxVotes {
		return apperrors.WithMetadata(
			apperrors.CodeVotesOutOfRange,
			fmt.Sprintf("target votes %d outside [0, %d]", votes, MaxVotes),
			map[string]string{"votes": strconv.Itoa(votes), "max": strconv.Itoa(MaxVotes)},
		)
	}
	return nil
}

// Delta captures the full effect of moving a stake from one vote count to another.
type Delta struct {
	PreviousVotes int
	TargetVotes   int
	DeltaVotes    int
	PreviousCost  int
	TargetCost    int
	DeltaCost     int
}

// ComputeDelta derives the vote and cost movement for a stake transition.
func ComputeDelta(previousVotes, targetVotes int) Delta {
	previousCost := Cost(previousVotes)
	targetCost := Cost(targetVotes)
	return Delta{
		PreviousVotes: previousVotes,
		TargetVotes:   targetVotes,
		DeltaVotes:    targetVotes - previousVotes,
		PreviousCost:  previousCost,
		TargetCost:    targetCost,
		DeltaCost:     targetCost - previousCost,
	}
}

// Apply debits or credits the delta against the ledger, refusing any change
// the balance cannot cover. A refusal leaves the ledger untouched.
func (l *Ledger) Apply(d Delta, now time.Time) error {
	if d.DeltaCost > 0 && d.DeltaCost > l.Balance {
		return apperrors.WithMetadata(
			apperrors.CodeBalanceInsufficient,
			fmt.Sprintf("cost %d exceeds balance %d", d.DeltaCost, l.Balance),
			map[string]string{
				"required": strconv.Itoa(d.DeltaCost),
				"balance":  strconv.Itoa(l.Balance),
			},
		)
	}
	l.Balance -= d.DeltaCost
	l.TotalCostStaked += d.DeltaCost
	l.TotalVotesStaked += d.DeltaVotes
	interacted := now.UTC()
	l.LastInteractionAt = &interacted
	return nil
}

package ledger

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/openagora/agora/internal/platform/errors"
)

func TestCostLaw(t *testing.T) {
	for v := 0; v <= MaxVotes; v++ {
		if got := Cost(v); got != v*v {
			t.Fatalf("cost(%d): expected %d, got %d", v, v*v, got)
		}
	}
}

func TestValidateVotes(t *testing.T) {
	for v := 0; v <= MaxVotes; v++ {
		if err := ValidateVotes(v); err != nil {
			t.Fatalf("expected %d votes to validate, got %v", v, err)
		}
	}
	for _, v := range []int{-1, 11, 100} {
		err := ValidateVotes(v)
		if err == nil {
			t.Fatalf("expected %d votes to be rejected", v)
		}
		if apperrors.CodeOf(err) != apperrors.CodeVotesOutOfRange {
			t.Fatalf("expected out-of-range code, got %s", apperrors.CodeOf(err))
		}
	}
}

func TestComputeDelta(t *testing.T) {
	d := ComputeDelta(4, 1)
	if d.DeltaVotes != -3 {
		t.Fatalf("expected delta votes -3, got %d", d.DeltaVotes)
	}
	if d.PreviousCost != 16 || d.TargetCost != 1 || d.DeltaCost != -15 {
		t.Fatalf("unexpected costs: %+v", d)
	}
}

func TestApplyScenarioStakeAndUnwind(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New("topic-1", "identity-a")

	// 0 -> 4: cost 16, balance 84.
	if err := l.Apply(ComputeDelta(0, 4), now); err != nil {
		t.Fatalf("apply 0->4: %v", err)
	}
	if l.Balance != 84 || l.TotalCostStaked != 16 || l.TotalVotesStaked != 4 {
		t.Fatalf("after 0->4: %+v", l)
	}

	// 4 -> 1: refund 15, balance 99.
	if err := l.Apply(ComputeDelta(4, 1), now); err != nil {
		t.Fatalf("apply 4->1: %v", err)
	}
	if l.Balance != 99 || l.TotalCostStaked != 1 || l.TotalVotesStaked != 1 {
		t.Fatalf("after 4->1: %+v", l)
	}

	// 1 -> 0: full unwind, balance restored.
	if err := l.Apply(ComputeDelta(1, 0), now); err != nil {
		t.Fatalf("apply 1->0: %v", err)
	}
	if l.Balance != InitialBalance || l.TotalCostStaked != 0 || l.TotalVotesStaked != 0 {
		t.Fatalf("after 1->0: %+v", l)
	}
	if err := l.CheckInvariant(); err != nil {
		t.Fatalf("invariant: %v", err)
	}
	if l.LastInteractionAt == nil {
		t.Fatal("expected last interaction timestamp")
	}
}

func TestApplyRejectsOverspendWithoutMutation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New("topic-1", "identity-a")
	if err := l.Apply(ComputeDelta(0, 10), now); err != nil {
		t.Fatalf("apply 0->10: %v", err)
	}
	before := l

	err := l.Apply(ComputeDelta(0, 1), now)
	if err == nil {
		t.Fatal("expected overspend to be rejected")
	}
	if !errors.Is(err, apperrors.New(apperrors.CodeBalanceInsufficient, "")) {
		t.Fatalf("expected insufficient-balance code, got %v", err)
	}
	if l != before {
		t.Fatalf("rejection must not mutate ledger: before %+v after %+v", before, l)
	}
}

func TestInvariantHoldsAfterEveryTransition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New("topic-1", "identity-a")

	transitions := [][2]int{{0, 3}, {3, 7}, {7, 2}, {2, 9}, {9, 0}, {0, 10}, {10, 10}}
	for _, tr := range transitions {
		if err := l.Apply(ComputeDelta(tr[0], tr[1]), now); err != nil {
			t.Fatalf("apply %d->%d: %v", tr[0], tr[1], err)
		}
		if err := l.CheckInvariant(); err != nil {
			t.Fatalf("invariant after %d->%d: %v", tr[0], tr[1], err)
		}
	}
}

func TestCheckInvariantDetectsViolation(t *testing.T) {
	l := New("topic-1", "identity-a")
	l.Balance = 90 // staked still 0
	if err := l.CheckInvariant(); err == nil {
		t.Fatal("expected invariant violation to be detected")
	}
}

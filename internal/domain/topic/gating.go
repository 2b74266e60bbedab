package topic

import (
	apperrors "github.com/openagora/agora/internal/platform/errors"
)

// AllowStakeChange applies the gating policy for a stake transition.
//
// Increases require an active topic and an unpruned argument. Decreases and
// full withdrawals always pass: participants must be able to recover locked
// value even when writes are otherwise frozen.
func AllowStakeChange(t Topic, arg Argument, deltaVotes int) error {
	if deltaVotes <= 0 {
		return nil
	}
	if t.Status != StatusActive {
		return apperrors.WithMetadata(
			apperrors.CodeTopicWriteDisallowed,
			"topic does not accept stake increases",
			map[string]string{"topic": t.ID, "status": string(t.Status)},
		)
	}
	if arg.Pruned {
		return apperrors.WithMetadata(
			apperrors.CodeArgumentPruned,
			"argument is pruned",
			map[string]string{"topic": t.ID, "argument": arg.ID},
		)
	}
	return nil
}

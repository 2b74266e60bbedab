package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/openagora/agora/internal/domain/ledger"
	"github.com/openagora/agora/internal/domain/topic"
	apperrors "github.com/openagora/agora/internal/platform/errors"
	"github.com/openagora/agora/internal/storage"
)

// SetVotes applies one stake transition as a single transaction. Gating,
// balance check, ledger movement, stake upsert, and aggregate adjustment
// commit together or not at all.
func (s *Store) SetVotes(ctx context.Context, params storage.SetVotesParams) (storage.SetVotesResult, error) {
	var result storage.SetVotesResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = setVotesInTx(ctx, tx, params)
		return err
	})
	if err != nil {
		return storage.SetVotesResult{}, err
	}
	return result, nil
}

// setVotesInTx is the atomic apply step shared by SetVotes and CreateArgument.
func setVotesInTx(ctx context.Context, tx *sql.Tx, params storage.SetVotesParams) (storage.SetVotesResult, error) {
	if err := ledger.ValidateVotes(params.TargetVotes); err != nil {
		return storage.SetVotesResult{}, err
	}

	t, err := getTopic(ctx, tx, params.TopicID)
	if err != nil {
		return storage.SetVotesResult{}, err
	}
	arg, err := getArgument(ctx, tx, params.TopicID, params.ArgumentID)
	if err != nil {
		return storage.SetVotesResult{}, err
	}
	stake, err := getStake(ctx, tx, params.TopicID, params.ArgumentID, params.Identity)
	if err != nil {
		return storage.SetVotesResult{}, err
	}

	delta := ledger.ComputeDelta(stake.Votes, params.TargetVotes)
	if err := topic.AllowStakeChange(t, arg, delta.DeltaVotes); err != nil {
		return storage.SetVotesResult{}, err
	}

	led, err := loadOrInitLedger(ctx, tx, params.TopicID, params.Identity, params.Now)
	if err != nil {
		return storage.SetVotesResult{}, err
	}
	if err := led.Apply(delta, params.Now); err != nil {
		return storage.SetVotesResult{}, err
	}
	if err := saveLedger(ctx, tx, led, params.Now); err != nil {
		return storage.SetVotesResult{}, err
	}

	stake.Votes = delta.TargetVotes
	stake.Cost = delta.TargetCost
	if err := upsertStake(ctx, tx, stake, params.Now); err != nil {
		return storage.SetVotesResult{}, err
	}

	const aggregateSQL = `
UPDATE arguments SET total_votes = total_votes + ?, total_cost = total_cost + ?, updated_at = ?
WHERE id = ? AND topic_id = ?
`
	if _, err := tx.ExecContext(ctx, aggregateSQL,
		delta.DeltaVotes, delta.DeltaCost, toMillis(params.Now), params.ArgumentID, params.TopicID); err != nil {
		return storage.SetVotesResult{}, fmt.Errorf("adjust argument aggregates: %w", err)
	}
	arg.TotalVotes += delta.DeltaVotes
	arg.TotalCost += delta.DeltaCost
	arg.UpdatedAt = params.Now.UTC()

	return storage.SetVotesResult{Delta: delta, Ledger: led, Argument: arg}, nil
}

// CreateArgument inserts an argument and applies its initial stake inside one
// transaction: an insufficient balance leaves neither the argument nor any
// ledger or stake change behind.
//
// The create nonce doubles as the crash-retry backstop: when the first
// execution committed but its response never reached the idempotency cache, a
// retried insert collides on the nonce and the original argument is returned
// instead of a duplicate.
func (s *Store) CreateArgument(ctx context.Context, params storage.CreateArgumentParams) (storage.CreateArgumentResult, error) {
	var result storage.CreateArgumentResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if params.Nonce != "" {
			existingID, err := argumentIDByNonce(ctx, tx, params.Nonce)
			if err != nil {
				return err
			}
			if existingID != "" {
				arg, err := getArgument(ctx, tx, params.TopicID, existingID)
				if err != nil {
					return err
				}
				result = storage.CreateArgumentResult{Argument: arg, Replayed: true}
				return nil
			}
		}

		t, err := getTopic(ctx, tx, params.TopicID)
		if err != nil {
			return err
		}
		if t.Status != topic.StatusActive {
			return apperrors.WithMetadata(
				apperrors.CodeTopicWriteDisallowed,
				"topic does not accept new arguments",
				map[string]string{"topic": t.ID, "status": string(t.Status)},
			)
		}
		if params.ParentID != "" {
			if _, err := getArgument(ctx, tx, params.TopicID, params.ParentID); err != nil {
				return err
			}
		}
		if err := ledger.ValidateVotes(params.InitialVotes); err != nil {
			return err
		}

		arg := topic.Argument{
			ID:        uuid.NewString(),
			TopicID:   params.TopicID,
			ParentID:  params.ParentID,
			CreatedAt: params.Now.UTC(),
			UpdatedAt: params.Now.UTC(),
		}
		const insertSQL = `
INSERT INTO arguments (id, topic_id, parent_id, content, pruned, total_votes, total_cost, create_nonce, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?, ?)
`
		nonce := sql.NullString{String: params.Nonce, Valid: params.Nonce != ""}
		if _, err := tx.ExecContext(ctx, insertSQL,
			arg.ID, arg.TopicID, arg.ParentID, params.Content, nonce,
			toMillis(params.Now), toMillis(params.Now)); err != nil {
			return fmt.Errorf("insert argument: %w", err)
		}

		result = storage.CreateArgumentResult{Argument: arg}
		if params.InitialVotes > 0 {
			votes, err := setVotesInTx(ctx, tx, storage.SetVotesParams{
				TopicID:     params.TopicID,
				ArgumentID:  arg.ID,
				Identity:    params.Identity,
				TargetVotes: params.InitialVotes,
				Now:         params.Now,
			})
			if err != nil {
				return err
			}
			result.Argument = votes.Argument
			result.Votes = &votes
		}
		return nil
	})
	if err != nil {
		return storage.CreateArgumentResult{}, err
	}
	return result, nil
}

func argumentIDByNonce(ctx context.Context, tx *sql.Tx, nonce string) (string, error) {
	const getSQL = `SELECT id FROM arguments WHERE create_nonce = ?`
	var id string
	err := tx.QueryRowContext(ctx, getSQL, nonce).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup argument by nonce: %w", err)
	}
	return id, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openagora/agora/internal/domain/ledger"
)

// GetLedger returns the ledger for (topicID, identity), creating it with the
// initial balance on first access. The insert-then-read runs in one
// transaction so two concurrent first reads agree on a single row.
func (s *Store) GetLedger(ctx context.Context, topicID, identity string) (ledger.Ledger, error) {
	var result ledger.Ledger
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		led, err := loadOrInitLedger(ctx, tx, topicID, identity, time.Now())
		if err != nil {
			return err
		}
		result = led
		return nil
	})
	if err != nil {
		return ledger.Ledger{}, err
	}
	return result, nil
}

// loadOrInitLedger reads the ledger row, inserting the lazily granted initial
// balance when the row does not exist yet.
func loadOrInitLedger(ctx context.Context, tx *sql.Tx, topicID, identity string, now time.Time) (ledger.Ledger, error) {
	const initSQL = `
INSERT INTO ledgers (topic_id, identity, balance, total_votes_staked, total_cost_staked, last_interaction_at, created_at, updated_at)
VALUES (?, ?, ?, 0, 0, NULL, ?, ?)
ON CONFLICT(topic_id, identity) DO NOTHING
`
	millis := toMillis(now)
	if _, err := tx.ExecContext(ctx, initSQL, topicID, identity, ledger.InitialBalance, millis, millis); err != nil {
		return ledger.Ledger{}, fmt.Errorf("init ledger: %w", err)
	}

	const getSQL = `
SELECT balance, total_votes_staked, total_cost_staked, last_interaction_at
FROM ledgers WHERE topic_id = ? AND identity = ?
`
	led := ledger.Ledger{TopicID: topicID, Identity: identity}
	var lastInteraction sql.NullInt64
	err := tx.QueryRowContext(ctx, getSQL, topicID, identity).Scan(
		&led.Balance, &led.TotalVotesStaked, &led.TotalCostStaked, &lastInteraction)
	if err != nil {
		return ledger.Ledger{}, fmt.Errorf("load ledger: %w", err)
	}
	led.LastInteractionAt = fromNullMillis(lastInteraction)
	return led, nil
}

func saveLedger(ctx context.Context, tx *sql.Tx, led ledger.Ledger, now time.Time) error {
	const saveSQL = `
UPDATE ledgers
SET balance = ?, total_votes_staked = ?, total_cost_staked = ?, last_interaction_at = ?, updated_at = ?
WHERE topic_id = ? AND identity = ?
`
	_, err := tx.ExecContext(ctx, saveSQL,
		led.Balance, led.TotalVotesStaked, led.TotalCostStaked,
		toNullMillis(led.LastInteractionAt), toMillis(now),
		led.TopicID, led.Identity)
	if err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// GetStake returns the stake for (topicID, argumentID, identity). A missing
// row is the canonical zero-vote state.
func (s *Store) GetStake(ctx context.Context, topicID, argumentID, identity string) (ledger.Stake, error) {
	return getStake(ctx, s.sqlDB, topicID, argumentID, identity)
}

func getStake(ctx context.Context, q querier, topicID, argumentID, identity string) (ledger.Stake, error) {
	stake := ledger.Stake{TopicID: topicID, ArgumentID: argumentID, Identity: identity}
	const getSQL = `
SELECT votes, cost FROM stakes WHERE topic_id = ? AND argument_id = ? AND identity = ?
`
	err := q.QueryRowContext(ctx, getSQL, topicID, argumentID, identity).Scan(&stake.Votes, &stake.Cost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stake, nil
		}
		return ledger.Stake{}, fmt.Errorf("get stake: %w", err)
	}
	return stake, nil
}

// upsertStake writes the stake row for a positive vote count and deletes it
// when votes return to zero, keeping absence the canonical zero state.
func upsertStake(ctx context.Context, tx *sql.Tx, stake ledger.Stake, now time.Time) error {
	if stake.Votes == 0 {
		const deleteSQL = `DELETE FROM stakes WHERE topic_id = ? AND argument_id = ? AND identity = ?`
		if _, err := tx.ExecContext(ctx, deleteSQL, stake.TopicID, stake.ArgumentID, stake.Identity); err != nil {
			return fmt.Errorf("delete stake: %w", err)
		}
		return nil
	}
	const upsertSQL = `
INSERT INTO stakes (topic_id, argument_id, identity, votes, cost, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(topic_id, argument_id, identity) DO UPDATE SET
    votes = excluded.votes,
    cost = excluded.cost,
    updated_at = excluded.updated_at
`
	millis := toMillis(now)
	_, err := tx.ExecContext(ctx, upsertSQL,
		stake.TopicID, stake.ArgumentID, stake.Identity, stake.Votes, stake.Cost, millis, millis)
	if err != nil {
		return fmt.Errorf("upsert stake: %w", err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openagora/agora/internal/domain/topic"
	apperrors "github.com/openagora/agora/internal/platform/errors"
)

// PutTopic inserts or replaces a topic row.
func (s *Store) PutTopic(ctx context.Context, t topic.Topic) error {
	if t.ID == "" {
		return fmt.Errorf("topic id is required")
	}
	if !topic.ValidStatus(t.Status) {
		return fmt.Errorf("unknown topic status %q", t.Status)
	}
	const putSQL = `
INSERT INTO topics (id, status, owner_identity, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    status = excluded.status,
    owner_identity = excluded.owner_identity,
    updated_at = excluded.updated_at
`
	_, err := s.sqlDB.ExecContext(ctx, putSQL,
		t.ID, string(t.Status), t.OwnerIdentity, toMillis(t.CreatedAt), toMillis(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put topic: %w", err)
	}
	return nil
}

// GetTopic loads a topic by id.
func (s *Store) GetTopic(ctx context.Context, topicID string) (topic.Topic, error) {
	return getTopic(ctx, s.sqlDB, topicID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTopic(ctx context.Context, q querier, topicID string) (topic.Topic, error) {
	const getSQL = `
SELECT id, status, owner_identity, created_at, updated_at
FROM topics WHERE id = ?
`
	var (
		t                    topic.Topic
		status               string
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, getSQL, topicID).Scan(&t.ID, &status, &t.OwnerIdentity, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return topic.Topic{}, apperrors.New(apperrors.CodeNotFound, "topic not found")
		}
		return topic.Topic{}, fmt.Errorf("get topic: %w", err)
	}
	t.Status = topic.Status(status)
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return t, nil
}

// PutArgument inserts or replaces an argument row, preserving aggregates on update.
func (s *Store) PutArgument(ctx context.Context, arg topic.Argument) error {
	if arg.ID == "" || arg.TopicID == "" {
		return fmt.Errorf("argument id and topic id are required")
	}
	const putSQL = `
INSERT INTO arguments (id, topic_id, parent_id, content, pruned, total_votes, total_cost, created_at, updated_at)
VALUES (?, ?, ?, '', ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    pruned = excluded.pruned,
    updated_at = excluded.updated_at
`
	_, err := s.sqlDB.ExecContext(ctx, putSQL,
		arg.ID, arg.TopicID, arg.ParentID, boolToInt(arg.Pruned),
		arg.TotalVotes, arg.TotalCost, toMillis(arg.CreatedAt), toMillis(arg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put argument: %w", err)
	}
	return nil
}

// GetArgument loads an argument scoped to its topic.
func (s *Store) GetArgument(ctx context.Context, topicID, argumentID string) (topic.Argument, error) {
	return getArgument(ctx, s.sqlDB, topicID, argumentID)
}

func getArgument(ctx context.Context, q querier, topicID, argumentID string) (topic.Argument, error) {
	const getSQL = `
SELECT id, topic_id, parent_id, pruned, total_votes, total_cost, created_at, updated_at
FROM arguments WHERE id = ? AND topic_id = ?
`
	var (
		arg                  topic.Argument
		pruned               int
		createdAt, updatedAt int64
	)
	err := q.QueryRowContext(ctx, getSQL, argumentID, topicID).Scan(
		&arg.ID, &arg.TopicID, &arg.ParentID, &pruned, &arg.TotalVotes, &arg.TotalCost, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return topic.Argument{}, apperrors.New(apperrors.CodeNotFound, "argument not found")
		}
		return topic.Argument{}, fmt.Errorf("get argument: %w", err)
	}
	arg.Pruned = pruned != 0
	arg.CreatedAt = fromMillis(createdAt)
	arg.UpdatedAt = fromMillis(updatedAt)
	return arg, nil
}

// ClaimTopic records identity as the topic owner.
//
// Single-use claim tokens gate who reaches this write; the store only
// enforces that the topic exists.
func (s *Store) ClaimTopic(ctx context.Context, topicID, identity string, now time.Time) (topic.Topic, error) {
	var claimed topic.Topic
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		t, err := getTopic(ctx, tx, topicID)
		if err != nil {
			return err
		}
		const claimSQL = `
UPDATE topics SET owner_identity = ?, updated_at = ? WHERE id = ?
`
		if _, err := tx.ExecContext(ctx, claimSQL, identity, toMillis(now), topicID); err != nil {
			return fmt.Errorf("claim topic: %w", err)
		}
		t.OwnerIdentity = identity
		t.UpdatedAt = now.UTC()
		claimed = t
		return nil
	})
	if err != nil {
		return topic.Topic{}, err
	}
	return claimed, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

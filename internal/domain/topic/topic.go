// Package topic defines topic and argument state as seen by the write path,
// plus the gating policy that decides when stake increases are allowed.
package topic

import (
	"time"
)

// Status is the lifecycle state of a topic.
type Status string

const (
	StatusActive   Status = "active"
	StatusFrozen   Status = "frozen"
	StatusArchived Status = "archived"
)

// ValidStatus reports whether s is a known topic status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusFrozen, StatusArchived:
		return true
	}
	return false
}

// Topic is the slice of topic state the engine reads and (for ownership) writes.
type Topic struct {
	ID            string
	Status        Status
	OwnerIdentity string // empty until claimed
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Argument carries the argument fields the engine gates on and the aggregates
// it moves in lock-step with per-identity stakes.
type Argument struct {
	ID         string
	TopicID    string
	ParentID   string // empty for the root argument
	Pruned     bool
	TotalVotes int
	TotalCost  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

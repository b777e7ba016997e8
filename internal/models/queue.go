package models

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus represents the lifecycle status of a queue entry
type QueueStatus string

const (
	QueueStatusWaiting   QueueStatus = "waiting"
	QueueStatusActive    QueueStatus = "active"
	QueueStatusCompleted QueueStatus = "completed"
	QueueStatusLeft      QueueStatus = "left"
)

// Terminal reports whether the status admits no further transitions.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusLeft
}

// QueueEntry represents one account's claim to a turn on a rig.
// Entries are never hard-deleted; they transition status instead.
type QueueEntry struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	RigID     uuid.UUID   `json:"rigId" db:"rig_id"`
	AccountID uuid.UUID   `json:"accountId" db:"account_id"`
	Status    QueueStatus `json:"status" db:"status"`

	// 1-based, gap-free among waiting/active entries for a rig
	Position int `json:"position" db:"position"`

	JoinedAt      time.Time  `json:"joinedAt" db:"joined_at"`
	PositionOneAt *time.Time `json:"positionOneAt,omitempty" db:"position_one_at"`
	StartedAt     *time.Time `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

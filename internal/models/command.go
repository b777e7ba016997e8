package models

import (
	"time"

	"github.com/google/uuid"
)

// CommandAction identifies the unit of work an agent must perform
type CommandAction string

const (
	CommandActionSeatDriver CommandAction = "seat_driver"
	CommandActionEndSession CommandAction = "end_session"
)

// CommandStatus represents the lifecycle status of a command
type CommandStatus string

const (
	CommandStatusPending   CommandStatus = "pending"
	CommandStatusCompleted CommandStatus = "completed"
	CommandStatusFailed    CommandStatus = "failed"
)

// RigCommand represents one unit of work destined for a rig agent.
// The agent cannot be pushed to, so control-plane intent is written as rows
// the agent discovers by polling. A command transitions to a terminal status
// exactly once and is immutable afterwards.
type RigCommand struct {
	ID     uuid.UUID     `json:"id" db:"id"`
	RigID  uuid.UUID     `json:"rigId" db:"rig_id"`
	Action CommandAction `json:"action" db:"action"`
	Params Variables     `json:"params,omitempty" db:"params"`

	Status CommandStatus `json:"status" db:"status"`
	Result Variables     `json:"result,omitempty" db:"result"`
	Error  string        `json:"error,omitempty" db:"error"`

	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	RigID     *uuid.UUID `json:"rigId,omitempty" db:"rig_id"`
	AccountID *uuid.UUID `json:"accountId,omitempty" db:"account_id"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Description string     `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Queue events
	EventTypeQueueJoin  EventType = "QUEUE_JOIN"
	EventTypeQueueLeave EventType = "QUEUE_LEAVE"

	// Session events
	EventTypeSessionActivated EventType = "SESSION_ACTIVATED"
	EventTypeSessionStarted   EventType = "SESSION_STARTED"
	EventTypeSessionCompleted EventType = "SESSION_COMPLETED"
	EventTypeSessionFailed    EventType = "SESSION_FAILED"
	EventTypeSessionRefunded  EventType = "SESSION_REFUNDED"

	// Command relay events
	EventTypeCommandQueued    EventType = "COMMAND_QUEUED"
	EventTypeCommandCompleted EventType = "COMMAND_COMPLETED"
	EventTypeCommandFailed    EventType = "COMMAND_FAILED"

	// Agent events
	EventTypeHeartbeatStale EventType = "HEARTBEAT_STALE"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rig represents one physical driving rig
type Rig struct {
	BaseModel

	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
	Location    string `json:"location" db:"location"`

	// Claimed means the rig has an owner and may accept queue entries
	Claimed bool       `json:"claimed" db:"claimed"`
	OwnerID *uuid.UUID `json:"ownerId,omitempty" db:"owner_id"`

	// Agent credential; the plaintext key is returned once at registration
	APIKeyHash string `json:"-" db:"api_key_hash"`

	// Agent-reported status
	HeartbeatAt   *time.Time `json:"heartbeatAt,omitempty" db:"heartbeat_at"`
	HardwareReady *bool      `json:"hardwareReady,omitempty" db:"hardware_ready"`

	// Current timed session, null when the rig is idle
	SessionState *SessionState `json:"sessionState,omitempty" db:"session_state"`
}

// SessionState tracks the physical timed session on a rig. It is decoupled
// from the queue entry status because the agent only discovers the seat
// command by polling: the queue entry goes active first, and the countdown
// starts once the rig actually moves.
type SessionState struct {
	Active             bool       `json:"active"`
	WaitingForMovement bool       `json:"waitingForMovement"`
	HolderID           uuid.UUID  `json:"holderId"`
	SeatedAt           time.Time  `json:"seatedAt"`
	StartTime          *time.Time `json:"startTime,omitempty"`
	DurationSeconds    int        `json:"durationSeconds"`
}

// Remaining returns the remaining session time, floored at zero.
// Zero when the countdown has not started yet.
func (s *SessionState) Remaining(now time.Time) time.Duration {
	if s == nil || !s.Active || s.StartTime == nil {
		return 0
	}
	remaining := time.Duration(s.DurationSeconds)*time.Second - now.Sub(*s.StartTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the countdown has run out.
func (s *SessionState) Expired(now time.Time) bool {
	if s == nil || !s.Active || s.StartTime == nil {
		return false
	}
	return now.Sub(*s.StartTime) >= time.Duration(s.DurationSeconds)*time.Second
}

// Value implements driver.Valuer interface
func (s *SessionState) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner interface
func (s *SessionState) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, s)
	case string:
		return json.Unmarshal([]byte(data), s)
	default:
		return fmt.Errorf("cannot scan %T into SessionState", value)
	}
}

// TelemetrySample represents one motion/speed sample reported by an agent
type TelemetrySample struct {
	ID         uuid.UUID `json:"id" db:"id"`
	RigID      uuid.UUID `json:"rigId" db:"rig_id"`
	SpeedKPH   float64   `json:"speedKph" db:"speed_kph"`
	Moving     bool      `json:"moving" db:"moving"`
	RecordedAt time.Time `json:"recordedAt" db:"recorded_at"`
}

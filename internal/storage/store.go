package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// Common errors
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateKey        = errors.New("duplicate key")
	ErrConflict            = errors.New("conflicting concurrent update")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyQueued       = errors.New("already queued")
	ErrRigUnclaimed        = errors.New("rig is not claimed")
	ErrInvalidData         = errors.New("invalid data")
)

// Store defines the storage interface. All multi-row queue mutations are
// performed inside a transaction; single-row state transitions are expressed
// as conditional updates so that two control-plane replicas can run
// concurrently without in-process locks.
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, int64, error)

	// Rig methods
	CreateRig(ctx context.Context, rig *models.Rig) error
	GetRig(ctx context.Context, id uuid.UUID) (*models.Rig, error)
	UpdateRig(ctx context.Context, rig *models.Rig) error
	DeleteRig(ctx context.Context, id uuid.UUID) error
	ListRigs(ctx context.Context, limit, offset int) ([]*models.Rig, int64, error)
	ListRigsWithSession(ctx context.Context) ([]*models.Rig, error)

	// TouchRigHeartbeat stamps the heartbeat timestamp and, when ready is
	// non-nil, the hardware readiness flag.
	TouchRigHeartbeat(ctx context.Context, rigID uuid.UUID, ready *bool) error

	// SetRigSessionState writes the session sub-state only when the rig has
	// none; returns ErrConflict when a session is already outstanding.
	SetRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error
	// UpdateRigSessionState replaces an outstanding session sub-state only
	// when the stored state still has the same holder and is still waiting
	// for movement; returns ErrConflict otherwise.
	UpdateRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error
	ClearRigSessionState(ctx context.Context, rigID uuid.UUID) error

	// Queue methods
	JoinQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error)
	LeaveQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error)
	PromoteNextEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error)
	GetQueueEntry(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error)
	GetActiveQueueEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error)
	ListQueueEntries(ctx context.Context, rigID uuid.UUID) ([]*models.QueueEntry, error)

	// ActivateQueueEntry transitions the entry to active, conditional on it
	// still being waiting at position 1 with no other active entry for the
	// rig. Returns ErrConflict when the condition no longer holds, which is
	// the single-winner guarantee for racing activations.
	ActivateQueueEntry(ctx context.Context, entryID uuid.UUID) error
	// RevertQueueEntry undoes a failed activation (active -> waiting).
	RevertQueueEntry(ctx context.Context, entryID uuid.UUID) error
	// CompleteQueueEntry transitions an active entry to completed.
	CompleteQueueEntry(ctx context.Context, entryID uuid.UUID) error

	// Command relay methods
	CreateCommand(ctx context.Context, cmd *models.RigCommand) error
	GetCommand(ctx context.Context, id uuid.UUID) (*models.RigCommand, error)
	GetPendingCommands(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.RigCommand, error)
	// CompleteCommand performs the single terminal transition of a command.
	// Returns ErrNotFound when the command does not belong to the rig and
	// ErrConflict when it is already terminal.
	CompleteCommand(ctx context.Context, id, rigID uuid.UUID, status models.CommandStatus, result models.Variables, errMsg string) (*models.RigCommand, error)

	// Credit ledger methods
	Debit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)

	// Telemetry methods
	CreateTelemetrySample(ctx context.Context, sample *models.TelemetrySample) error
	ListRecentTelemetry(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.TelemetrySample, error)

	// Event log methods
	CreateEventLog(ctx context.Context, event *models.EventLog) error
	ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error)

	// Close the store
	Close() error
}

// EventLogFilters represents filters for event logs
type EventLogFilters struct {
	RigID     *uuid.UUID
	AccountID *uuid.UUID
	Type      *models.EventType
	Level     *models.EventLevel
	StartTime *time.Time
	EndTime   *time.Time
}

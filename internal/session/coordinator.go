package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loseyco/revshareracing-sub002/internal/config"
	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/monitoring"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
)

// conflictRetries bounds transparent retries of optimistic-concurrency
// conflicts before they surface as a transient failure
const conflictRetries = 3

// EventPublisher pushes session transitions to read-surface consumers
// (UI, overlay). Best-effort: failures are logged, never propagated.
type EventPublisher interface {
	PublishSessionEvent(rigID uuid.UUID, event string, details models.Variables)
}

// Coordinator orchestrates queue, session, credit and command-relay state.
// It holds no mutable state across requests: every multi-step transition is
// expressed as conditional updates against the store, with explicit
// compensation when a later step fails.
type Coordinator struct {
	store     storage.Store
	presence  *Presence
	cfg       config.SessionConfig
	publisher EventPublisher
}

// NewCoordinator creates a coordinator
func NewCoordinator(store storage.Store, presence *Presence, cfg config.SessionConfig, publisher EventPublisher) *Coordinator {
	return &Coordinator{
		store:     store,
		presence:  presence,
		cfg:       cfg,
		publisher: publisher,
	}
}

// Presence returns the coordinator's presence monitor
func (c *Coordinator) Presence() *Presence {
	return c.presence
}

// JoinQueue appends the account to the rig's queue
func (c *Coordinator) JoinQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := c.store.JoinQueue(ctx, rigID, accountID)
	if err != nil {
		monitoring.QueueJoin("error")
		switch {
		case errors.Is(err, storage.ErrAlreadyQueued):
			return nil, newError(KindAlreadyQueued, "account already has a queue entry for this rig")
		case errors.Is(err, storage.ErrRigUnclaimed):
			return nil, newError(KindDeviceNotReady, "rig is not claimed")
		default:
			return nil, err
		}
	}

	monitoring.QueueJoin("ok")
	c.logEvent(ctx, &rigID, &accountID, models.EventTypeQueueJoin, models.EventLevelInfo,
		"Joined queue", models.Variables{"position": entry.Position})

	return entry, nil
}

// LeaveQueue removes the account's waiting entry. Active entries cannot
// leave; the session must be completed instead.
func (c *Coordinator) LeaveQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := c.store.LeaveQueue(ctx, rigID, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotInQueue, "no waiting queue entry for this rig")
		}
		return nil, err
	}

	c.logEvent(ctx, &rigID, &accountID, models.EventTypeQueueLeave, models.EventLevelInfo,
		"Left queue", models.Variables{"position": entry.Position})

	return entry, nil
}

// Activate grants the account exclusive access to the rig. The debit, the
// queue-entry transition, the session sub-state write and the seat command
// enqueue are all-or-nothing from the caller's perspective: every failure
// after the debit refunds it and reverts the entry.
func (c *Coordinator) Activate(ctx context.Context, rigID, accountID uuid.UUID) (*models.SessionState, error) {
	state, err := c.activate(ctx, rigID, accountID)
	if err != nil {
		if kind := KindOf(err); kind != "" {
			monitoring.ActivationFailure(string(kind))
		}
		return nil, err
	}

	monitoring.SessionActivated()
	return state, nil
}

func (c *Coordinator) activate(ctx context.Context, rigID, accountID uuid.UUID) (*models.SessionState, error) {
	entry, err := c.store.GetQueueEntry(ctx, rigID, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(KindNotInQueue, "no queue entry for this rig")
		}
		return nil, err
	}
	if entry.Status != models.QueueStatusWaiting {
		return nil, newError(KindNotInQueue, "queue entry is not waiting")
	}
	if entry.Position != 1 {
		return nil, newError(KindNotYourTurn, "queue position is %d", entry.Position)
	}

	if _, err := c.store.GetActiveQueueEntry(ctx, rigID); err == nil {
		return nil, newError(KindSessionInProgress, "another session is in progress")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	rig, err := c.store.GetRig(ctx, rigID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if !c.presence.Online(rig, now) {
		return nil, newError(KindDeviceOffline, "agent heartbeat is stale")
	}
	if !c.presence.HardwareReady(rig) {
		return nil, newError(KindHardwareNotReady, "hardware has not reported ready")
	}

	if _, err := c.store.Debit(ctx, accountID, c.cfg.CostCredits); err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return nil, newError(KindInsufficientCredits, "balance below session cost of %d credits", c.cfg.CostCredits)
		}
		return nil, err
	}

	// From here on every failure must undo the debit.
	if err := c.store.ActivateQueueEntry(ctx, entry.ID); err != nil {
		c.refund(ctx, rigID, accountID, "activation lost the race")
		if errors.Is(err, storage.ErrConflict) {
			return nil, newError(KindSessionInProgress, "another activation won the race")
		}
		return nil, err
	}

	state := &models.SessionState{
		Active:             false,
		WaitingForMovement: true,
		HolderID:           accountID,
		SeatedAt:           now,
		DurationSeconds:    c.cfg.DurationSeconds,
	}

	if err := c.store.SetRigSessionState(ctx, rigID, state); err != nil {
		c.revertActivation(ctx, rigID, accountID, entry.ID)
		if errors.Is(err, storage.ErrConflict) {
			return nil, newError(KindSessionInProgress, "rig already has a session sub-state")
		}
		return nil, err
	}

	cmd := &models.RigCommand{
		RigID:  rigID,
		Action: models.CommandActionSeatDriver,
		Params: models.Variables{
			"durationSeconds":        int(c.cfg.MovementGrace.Seconds()),
			"sessionDurationSeconds": c.cfg.DurationSeconds,
			"holder":                 accountID.String(),
		},
	}
	if err := c.store.CreateCommand(ctx, cmd); err != nil {
		if clearErr := c.store.ClearRigSessionState(ctx, rigID); clearErr != nil {
			log.Error().Err(clearErr).Str("rigId", rigID.String()).Msg("Failed to clear session state during rollback")
		}
		c.revertActivation(ctx, rigID, accountID, entry.ID)
		return nil, newError(KindCommandEnqueueFailed, "failed to enqueue seat command: %v", err)
	}

	c.logEvent(ctx, &rigID, &accountID, models.EventTypeCommandQueued, models.EventLevelInfo,
		"Seat command queued", models.Variables{"commandId": cmd.ID, "action": string(cmd.Action)})
	c.logEvent(ctx, &rigID, &accountID, models.EventTypeSessionActivated, models.EventLevelInfo,
		"Session activated, waiting for movement", models.Variables{
			"commandId":       cmd.ID,
			"durationSeconds": c.cfg.DurationSeconds,
			"costCredits":     c.cfg.CostCredits,
		})
	c.publish(rigID, "activated", models.Variables{"holder": accountID.String()})

	return state, nil
}

// revertActivation undoes a partially applied activation: the queue entry
// returns to waiting and the debit is refunded.
func (c *Coordinator) revertActivation(ctx context.Context, rigID, accountID, entryID uuid.UUID) {
	if err := c.store.RevertQueueEntry(ctx, entryID); err != nil {
		log.Error().Err(err).Str("entryId", entryID.String()).Msg("Failed to revert queue entry")
	}
	c.refund(ctx, rigID, accountID, "activation rolled back")
}

// refund returns the session cost to the account
func (c *Coordinator) refund(ctx context.Context, rigID, accountID uuid.UUID, reason string) {
	if _, err := c.store.Credit(ctx, accountID, c.cfg.CostCredits); err != nil {
		log.Error().Err(err).
			Str("accountId", accountID.String()).
			Int64("amount", c.cfg.CostCredits).
			Msg("Failed to refund credits")
		return
	}

	monitoring.SessionRefunded()
	c.logEvent(ctx, &rigID, &accountID, models.EventTypeSessionRefunded, models.EventLevelInfo,
		"Session cost refunded", models.Variables{"amount": c.cfg.CostCredits, "reason": reason})
}

// Complete ends the rig's current session and advances the queue.
// Idempotent: when no active entry exists it reports completed=false and
// changes nothing. When notifyAgent is set an end_session command is
// enqueued so the agent stops the rig.
func (c *Coordinator) Complete(ctx context.Context, rigID uuid.UUID, reason string, notifyAgent bool) (bool, error) {
	return c.finish(ctx, rigID, reason, false, notifyAgent)
}

// finish ends the current session, optionally refunding the holder
func (c *Coordinator) finish(ctx context.Context, rigID uuid.UUID, reason string, refund, notifyAgent bool) (bool, error) {
	entry, err := c.store.GetActiveQueueEntry(ctx, rigID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := c.store.CompleteQueueEntry(ctx, entry.ID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race against a concurrent completion: done already.
			return false, nil
		}
		return false, err
	}

	if err := c.store.ClearRigSessionState(ctx, rigID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Str("rigId", rigID.String()).Msg("Failed to clear session state")
	}

	if refund {
		c.refund(ctx, rigID, entry.AccountID, reason)
	}

	// Cancel leftover pending commands so they cannot block the next
	// activation's enqueue.
	if pending, err := c.store.GetPendingCommands(ctx, rigID, c.cfg.CommandPollBatch); err != nil {
		log.Warn().Err(err).Str("rigId", rigID.String()).Msg("Failed to list pending commands during teardown")
	} else {
		for _, stale := range pending {
			if _, err := c.store.CompleteCommand(ctx, stale.ID, rigID, models.CommandStatusFailed, nil, "cancelled: "+reason); err != nil && !errors.Is(err, storage.ErrConflict) {
				log.Warn().Err(err).Str("commandId", stale.ID.String()).Msg("Failed to cancel pending command")
			}
		}
	}

	if notifyAgent {
		cmd := &models.RigCommand{
			RigID:  rigID,
			Action: models.CommandActionEndSession,
			Params: models.Variables{},
		}
		if err := c.store.CreateCommand(ctx, cmd); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				log.Warn().Err(err).Str("rigId", rigID.String()).Msg("Failed to enqueue end_session command")
			}
		} else {
			c.logEvent(ctx, &rigID, &entry.AccountID, models.EventTypeCommandQueued, models.EventLevelInfo,
				"End command queued", models.Variables{"commandId": cmd.ID, "action": string(cmd.Action)})
		}
	}

	next, err := c.store.PromoteNextEntry(ctx, rigID)
	if err != nil {
		log.Error().Err(err).Str("rigId", rigID.String()).Msg("Failed to promote next queue entry")
	}

	eventType := models.EventTypeSessionCompleted
	level := models.EventLevelInfo
	if refund {
		eventType = models.EventTypeSessionFailed
		level = models.EventLevelWarning
	}
	details := models.Variables{"reason": reason}
	if next != nil {
		details["promoted"] = next.AccountID.String()
	}
	c.logEvent(ctx, &rigID, &entry.AccountID, eventType, level, "Session ended: "+reason, details)
	c.publish(rigID, "completed", details)
	monitoring.SessionCompleted(reason)

	return true, nil
}

// HandleTelemetry reacts to a motion sample for a rig. Movement while the
// session is waiting for it starts the countdown; anything else is ignored.
func (c *Coordinator) HandleTelemetry(ctx context.Context, rigID uuid.UUID, sample *models.TelemetrySample) error {
	if !sample.Moving {
		return nil
	}

	err := retryConflict(func() error {
		rig, err := c.store.GetRig(ctx, rigID)
		if err != nil {
			return err
		}

		state := rig.SessionState
		if state == nil || !state.WaitingForMovement {
			return nil
		}

		now := time.Now()
		started := *state
		started.Active = true
		started.WaitingForMovement = false
		started.StartTime = &now

		if err := c.store.UpdateRigSessionState(ctx, rigID, &started); err != nil {
			return err
		}

		c.logEvent(ctx, &rigID, &state.HolderID, models.EventTypeSessionStarted, models.EventLevelInfo,
			"Movement detected, session countdown started", models.Variables{
				"speedKph":        sample.SpeedKPH,
				"durationSeconds": state.DurationSeconds,
			})
		c.publish(rigID, "started", models.Variables{"holder": state.HolderID.String()})

		return nil
	})

	if errors.Is(err, storage.ErrConflict) {
		return newError(KindConcurrentModification, "session state changed concurrently")
	}
	return err
}

// HandleCommandResult reacts to an agent-reported command completion
func (c *Coordinator) HandleCommandResult(ctx context.Context, cmd *models.RigCommand) error {
	monitoring.CommandCompleted(string(cmd.Status))

	switch cmd.Action {
	case models.CommandActionSeatDriver:
		if cmd.Status == models.CommandStatusFailed {
			c.logEvent(ctx, &cmd.RigID, nil, models.EventTypeCommandFailed, models.EventLevelError,
				"Seat command failed", models.Variables{"commandId": cmd.ID, "error": cmd.Error})
			// The driver never got seated: release the rig and refund.
			_, err := c.finish(ctx, cmd.RigID, "seat command failed", true, false)
			return err
		}
		c.logEvent(ctx, &cmd.RigID, nil, models.EventTypeCommandCompleted, models.EventLevelInfo,
			"Seat command completed", models.Variables{"commandId": cmd.ID})

	case models.CommandActionEndSession:
		// Agent confirmed the rig stopped; make sure the session is closed.
		_, err := c.Complete(ctx, cmd.RigID, "session ended by agent", false)
		return err
	}

	return nil
}

// Sweep enforces timeouts on outstanding sessions: stale heartbeats,
// sessions that never saw movement, and expired countdowns.
func (c *Coordinator) Sweep(ctx context.Context) error {
	rigs, err := c.store.ListRigsWithSession(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, rig := range rigs {
		state := rig.SessionState
		if state == nil {
			continue
		}

		switch {
		case c.presence.Stale(rig, c.cfg.HeartbeatGrace, now):
			c.logEvent(ctx, &rig.ID, &state.HolderID, models.EventTypeHeartbeatStale, models.EventLevelWarning,
				"Agent heartbeat stale with session outstanding", nil)
			if _, err := c.finish(ctx, rig.ID, "agent heartbeat stale", true, false); err != nil {
				log.Error().Err(err).Str("rigId", rig.ID.String()).Msg("Sweep failed to release rig")
			}

		case state.WaitingForMovement && now.Sub(state.SeatedAt) >= c.cfg.MovementGrace:
			if _, err := c.finish(ctx, rig.ID, "no movement detected", true, true); err != nil {
				log.Error().Err(err).Str("rigId", rig.ID.String()).Msg("Sweep failed to release rig")
			}

		case state.Expired(now):
			if _, err := c.finish(ctx, rig.ID, "duration elapsed", false, true); err != nil {
				log.Error().Err(err).Str("rigId", rig.ID.String()).Msg("Sweep failed to complete session")
			}
		}
	}

	return nil
}

// logEvent appends to the event log, best-effort
func (c *Coordinator) logEvent(ctx context.Context, rigID, accountID *uuid.UUID, eventType models.EventType, level models.EventLevel, description string, details models.Variables) {
	event := &models.EventLog{
		RigID:       rigID,
		AccountID:   accountID,
		Type:        eventType,
		Level:       level,
		Description: description,
		Details:     details,
	}
	if err := c.store.CreateEventLog(ctx, event); err != nil {
		log.Error().Err(err).Str("type", string(eventType)).Msg("Failed to create event log")
	}
}

// publish pushes a session event to subscribers, best-effort
func (c *Coordinator) publish(rigID uuid.UUID, event string, details models.Variables) {
	if c.publisher == nil {
		return
	}
	c.publisher.PublishSessionEvent(rigID, event, details)
}

// retryConflict retries fn a bounded number of times on optimistic
// concurrency conflicts
func retryConflict(fn func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = fn()
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
	}
	return err
}

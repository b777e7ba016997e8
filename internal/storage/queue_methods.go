package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// ========== Queue Methods ==========

const queueColumns = `
        id, rig_id, account_id, status, position,
        joined_at, position_one_at, started_at, completed_at`

func scanQueueEntry(row interface{ Scan(...interface{}) error }) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{}
	err := row.Scan(
		&entry.ID, &entry.RigID, &entry.AccountID, &entry.Status, &entry.Position,
		&entry.JoinedAt, &entry.PositionOneAt, &entry.StartedAt, &entry.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// JoinQueue appends a waiting entry for the account at the back of the rig's
// queue. The rig row is locked for the duration of the transaction so that
// position assignment is serialized against concurrent joins and leaves.
func (s *PostgresStore) JoinQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pg := tx.(*PostgresStore)

	var claimed bool
	err = pg.getDB().QueryRowContext(ctx,
		"SELECT claimed FROM rigs WHERE id = $1 FOR UPDATE", rigID,
	).Scan(&claimed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrRigUnclaimed
	}

	var exists bool
	err = pg.getDB().QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM queue_entries
            WHERE rig_id = $1 AND account_id = $2 AND status IN ('waiting', 'active')
        )`, rigID, accountID,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrAlreadyQueued
	}

	var occupied int
	err = pg.getDB().QueryRowContext(ctx, `
        SELECT COUNT(*) FROM queue_entries
        WHERE rig_id = $1 AND status IN ('waiting', 'active')`, rigID,
	).Scan(&occupied)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &models.QueueEntry{
		ID:        uuid.New(),
		RigID:     rigID,
		AccountID: accountID,
		Status:    models.QueueStatusWaiting,
		Position:  occupied + 1,
		JoinedAt:  now,
	}
	if entry.Position == 1 {
		entry.PositionOneAt = &now
	}

	_, err = pg.getDB().ExecContext(ctx, `
        INSERT INTO queue_entries (
            id, rig_id, account_id, status, position,
            joined_at, position_one_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.RigID, entry.AccountID, entry.Status, entry.Position,
		entry.JoinedAt, entry.PositionOneAt,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return entry, nil
}

// LeaveQueue marks the account's waiting entry as left and compacts the
// positions of every entry behind it. Active entries cannot leave.
func (s *PostgresStore) LeaveQueue(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pg := tx.(*PostgresStore)

	_, err = pg.getDB().ExecContext(ctx,
		"SELECT id FROM rigs WHERE id = $1 FOR UPDATE", rigID)
	if err != nil {
		return nil, err
	}

	entry, err := scanQueueEntry(pg.getDB().QueryRowContext(ctx, `
        SELECT `+queueColumns+`
        FROM queue_entries
        WHERE rig_id = $1 AND account_id = $2 AND status = 'waiting'`,
		rigID, accountID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry.Status = models.QueueStatusLeft
	entry.CompletedAt = &now

	_, err = pg.getDB().ExecContext(ctx, `
        UPDATE queue_entries SET status = 'left', completed_at = $2
        WHERE id = $1`, entry.ID, now)
	if err != nil {
		return nil, err
	}

	_, err = pg.getDB().ExecContext(ctx, `
        UPDATE queue_entries SET position = position - 1
        WHERE rig_id = $1 AND status IN ('waiting', 'active') AND position > $2`,
		rigID, entry.Position)
	if err != nil {
		return nil, err
	}

	// Someone new reaches the front only when the departed entry held it
	if entry.Position == 1 {
		_, err = pg.getDB().ExecContext(ctx, `
            UPDATE queue_entries SET position_one_at = $2
            WHERE rig_id = $1 AND status = 'waiting' AND position = 1`,
			rigID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return entry, nil
}

// PromoteNextEntry stamps a fresh position-one timestamp on the lowest
// waiting entry after a session completes. No-op when the queue is empty.
func (s *PostgresStore) PromoteNextEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := scanQueueEntry(s.getDB().QueryRowContext(ctx, `
        UPDATE queue_entries SET position_one_at = $2
        WHERE id = (
            SELECT id FROM queue_entries
            WHERE rig_id = $1 AND status = 'waiting'
            ORDER BY position ASC
            LIMIT 1
        )
        RETURNING `+queueColumns,
		rigID, time.Now()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// GetQueueEntry gets the account's non-terminal entry for a rig
func (s *PostgresStore) GetQueueEntry(ctx context.Context, rigID, accountID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := scanQueueEntry(s.getDB().QueryRowContext(ctx, `
        SELECT `+queueColumns+`
        FROM queue_entries
        WHERE rig_id = $1 AND account_id = $2 AND status IN ('waiting', 'active')`,
		rigID, accountID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// GetActiveQueueEntry gets the rig's active entry, if any
func (s *PostgresStore) GetActiveQueueEntry(ctx context.Context, rigID uuid.UUID) (*models.QueueEntry, error) {
	entry, err := scanQueueEntry(s.getDB().QueryRowContext(ctx, `
        SELECT `+queueColumns+`
        FROM queue_entries
        WHERE rig_id = $1 AND status = 'active'`,
		rigID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// ListQueueEntries lists the rig's waiting and active entries in position order
func (s *PostgresStore) ListQueueEntries(ctx context.Context, rigID uuid.UUID) ([]*models.QueueEntry, error) {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT `+queueColumns+`
        FROM queue_entries
        WHERE rig_id = $1 AND status IN ('waiting', 'active')
        ORDER BY position ASC`,
		rigID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// ActivateQueueEntry transitions the entry to active, conditional on it still
// being waiting at position 1 with no other active entry for the rig. Two
// racing activations resolve to exactly one winner here.
func (s *PostgresStore) ActivateQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `
        UPDATE queue_entries SET status = 'active', started_at = $2
        WHERE id = $1 AND status = 'waiting' AND position = 1
        AND NOT EXISTS (
            SELECT 1 FROM queue_entries q2
            WHERE q2.rig_id = queue_entries.rig_id AND q2.status = 'active'
        )`, entryID, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		var exists bool
		err := s.getDB().QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM queue_entries WHERE id = $1)", entryID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	return nil
}

// RevertQueueEntry undoes a failed activation, returning the entry to waiting
func (s *PostgresStore) RevertQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `
        UPDATE queue_entries SET status = 'waiting', started_at = NULL
        WHERE id = $1 AND status = 'active'`, entryID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrConflict
	}

	return nil
}

// CompleteQueueEntry transitions an active entry to completed and compacts
// the positions of every entry behind it, so the next waiting entry ends up
// at position 1.
func (s *PostgresStore) CompleteQueueEntry(ctx context.Context, entryID uuid.UUID) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pg := tx.(*PostgresStore)

	var rigID uuid.UUID
	err = pg.getDB().QueryRowContext(ctx,
		"SELECT rig_id FROM queue_entries WHERE id = $1", entryID).Scan(&rigID)
	if err == sql.ErrNoRows {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	_, err = pg.getDB().ExecContext(ctx,
		"SELECT id FROM rigs WHERE id = $1 FOR UPDATE", rigID)
	if err != nil {
		return err
	}

	var position int
	err = pg.getDB().QueryRowContext(ctx, `
        UPDATE queue_entries SET status = 'completed', completed_at = $2
        WHERE id = $1 AND status = 'active'
        RETURNING position`, entryID, time.Now()).Scan(&position)
	if err == sql.ErrNoRows {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	_, err = pg.getDB().ExecContext(ctx, `
        UPDATE queue_entries SET position = position - 1
        WHERE rig_id = $1 AND status = 'waiting' AND position > $2`,
		rigID, position)
	if err != nil {
		return err
	}

	return tx.Commit()
}

package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// ========== Command Relay Methods ==========

const commandColumns = `
        id, rig_id, action, params, status, result, error,
        created_at, completed_at`

func scanCommand(row interface{ Scan(...interface{}) error }) (*models.RigCommand, error) {
	cmd := &models.RigCommand{}
	var errMsg sql.NullString
	err := row.Scan(
		&cmd.ID, &cmd.RigID, &cmd.Action, &cmd.Params, &cmd.Status,
		&cmd.Result, &errMsg, &cmd.CreatedAt, &cmd.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	cmd.Error = errMsg.String
	return cmd, nil
}

// CreateCommand appends a pending command to the rig's mailbox. A second
// pending command of the same action for the same rig is rejected, so a
// slow agent can never be handed two seat commands at once.
func (s *PostgresStore) CreateCommand(ctx context.Context, cmd *models.RigCommand) error {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}

	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}

	cmd.Status = models.CommandStatusPending

	result, err := s.getDB().ExecContext(ctx, `
        INSERT INTO rig_commands (id, rig_id, action, params, status, created_at)
        SELECT $1, $2, $3, $4, $5, $6
        WHERE NOT EXISTS (
            SELECT 1 FROM rig_commands
            WHERE rig_id = $2 AND action = $3 AND status = 'pending'
        )`,
		cmd.ID, cmd.RigID, cmd.Action, cmd.Params, cmd.Status, cmd.CreatedAt,
	)
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

// GetCommand gets a command by ID
func (s *PostgresStore) GetCommand(ctx context.Context, id uuid.UUID) (*models.RigCommand, error) {
	cmd, err := scanCommand(s.getDB().QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM rig_commands WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

// GetPendingCommands gets the rig's pending commands, oldest first
func (s *PostgresStore) GetPendingCommands(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.RigCommand, error) {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT `+commandColumns+`
        FROM rig_commands
        WHERE rig_id = $1 AND status = 'pending'
        ORDER BY created_at ASC
        LIMIT $2`,
		rigID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []*models.RigCommand
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	return cmds, nil
}

// CompleteCommand performs the single terminal transition of a command.
// A command that does not belong to the authenticating rig is reported as
// not found; one that is already terminal as a conflict.
func (s *PostgresStore) CompleteCommand(ctx context.Context, id, rigID uuid.UUID, status models.CommandStatus, result models.Variables, errMsg string) (*models.RigCommand, error) {
	if status != models.CommandStatusCompleted && status != models.CommandStatusFailed {
		return nil, ErrInvalidData
	}

	cmd, err := scanCommand(s.getDB().QueryRowContext(ctx, `
        UPDATE rig_commands SET status = $3, result = $4, error = $5, completed_at = $6
        WHERE id = $1 AND rig_id = $2 AND status = 'pending'
        RETURNING `+commandColumns,
		id, rigID, status, result, errMsg, time.Now()))
	if err == sql.ErrNoRows {
		var owner uuid.UUID
		err := s.getDB().QueryRowContext(ctx,
			"SELECT rig_id FROM rig_commands WHERE id = $1", id,
		).Scan(&owner)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if owner != rigID {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	return cmd, nil
}

package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// ========== Rig Methods ==========

const rigColumns = `
        id, created_at, updated_at, name, description, location,
        claimed, owner_id, api_key_hash, heartbeat_at, hardware_ready,
        session_state`

// CreateRig creates a new rig
func (s *PostgresStore) CreateRig(ctx context.Context, rig *models.Rig) error {
	if rig.ID == uuid.Nil {
		rig.ID = uuid.New()
	}

	now := time.Now()
	rig.CreatedAt = now
	rig.UpdatedAt = now

	query := `
        INSERT INTO rigs (
            id, created_at, updated_at, name, description, location,
            claimed, owner_id, api_key_hash, heartbeat_at, hardware_ready,
            session_state
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
        )`

	_, err := s.getDB().ExecContext(ctx, query,
		rig.ID, rig.CreatedAt, rig.UpdatedAt, rig.Name, rig.Description,
		rig.Location, rig.Claimed, rig.OwnerID, rig.APIKeyHash,
		rig.HeartbeatAt, rig.HardwareReady, rig.SessionState,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

func scanRig(row interface{ Scan(...interface{}) error }) (*models.Rig, error) {
	rig := &models.Rig{}
	rig.SessionState = &models.SessionState{}

	var state sql.NullString
	err := row.Scan(
		&rig.ID, &rig.CreatedAt, &rig.UpdatedAt, &rig.Name, &rig.Description,
		&rig.Location, &rig.Claimed, &rig.OwnerID, &rig.APIKeyHash,
		&rig.HeartbeatAt, &rig.HardwareReady, &state,
	)
	if err != nil {
		return nil, err
	}

	if state.Valid {
		if err := rig.SessionState.Scan(state.String); err != nil {
			return nil, err
		}
	} else {
		rig.SessionState = nil
	}

	return rig, nil
}

// GetRig gets a rig by ID
func (s *PostgresStore) GetRig(ctx context.Context, id uuid.UUID) (*models.Rig, error) {
	query := `SELECT ` + rigColumns + ` FROM rigs WHERE id = $1`

	rig, err := scanRig(s.getDB().QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return rig, nil
}

// UpdateRig updates a rig's metadata and claim status
func (s *PostgresStore) UpdateRig(ctx context.Context, rig *models.Rig) error {
	rig.UpdatedAt = time.Now()

	query := `
        UPDATE rigs SET
            updated_at = $2, name = $3, description = $4, location = $5,
            claimed = $6, owner_id = $7, api_key_hash = $8
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		rig.ID, rig.UpdatedAt, rig.Name, rig.Description, rig.Location,
		rig.Claimed, rig.OwnerID, rig.APIKeyHash,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteRig deletes a rig. Claimed rigs are never deleted.
func (s *PostgresStore) DeleteRig(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx,
		"DELETE FROM rigs WHERE id = $1 AND claimed = false", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListRigs lists rigs
func (s *PostgresStore) ListRigs(ctx context.Context, limit, offset int) ([]*models.Rig, int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx, "SELECT COUNT(*) FROM rigs").Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + rigColumns + `
        FROM rigs
        ORDER BY created_at ASC
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rigs []*models.Rig
	for rows.Next() {
		rig, err := scanRig(rows)
		if err != nil {
			return nil, 0, err
		}
		rigs = append(rigs, rig)
	}

	return rigs, count, nil
}

// ListRigsWithSession lists rigs with an outstanding session sub-state.
// Used by the timeout sweep.
func (s *PostgresStore) ListRigsWithSession(ctx context.Context) ([]*models.Rig, error) {
	query := `SELECT ` + rigColumns + `
        FROM rigs
        WHERE session_state IS NOT NULL
        ORDER BY created_at ASC`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rigs []*models.Rig
	for rows.Next() {
		rig, err := scanRig(rows)
		if err != nil {
			return nil, err
		}
		rigs = append(rigs, rig)
	}

	return rigs, nil
}

// TouchRigHeartbeat stamps the agent heartbeat and optionally the
// hardware readiness flag
func (s *PostgresStore) TouchRigHeartbeat(ctx context.Context, rigID uuid.UUID, ready *bool) error {
	var result sql.Result
	var err error

	if ready != nil {
		result, err = s.getDB().ExecContext(ctx,
			"UPDATE rigs SET heartbeat_at = $2, hardware_ready = $3, updated_at = $2 WHERE id = $1",
			rigID, time.Now(), *ready)
	} else {
		result, err = s.getDB().ExecContext(ctx,
			"UPDATE rigs SET heartbeat_at = $2, updated_at = $2 WHERE id = $1",
			rigID, time.Now())
	}
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SetRigSessionState writes the session sub-state, conditional on the rig
// having none. The condition is the compare-and-swap that makes the
// coordinator's activation safe against a racing activation on the same rig.
func (s *PostgresStore) SetRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error {
	result, err := s.getDB().ExecContext(ctx,
		"UPDATE rigs SET session_state = $2, updated_at = $3 WHERE id = $1 AND session_state IS NULL",
		rigID, state, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		if _, err := s.GetRig(ctx, rigID); err != nil {
			return err
		}
		return ErrConflict
	}

	return nil
}

// UpdateRigSessionState replaces an outstanding session sub-state,
// conditional on the stored state still belonging to the same holder and
// still waiting for movement. A concurrent teardown or re-activation between
// the caller's read and this write surfaces as ErrConflict instead of
// clobbering the newer state.
func (s *PostgresStore) UpdateRigSessionState(ctx context.Context, rigID uuid.UUID, state *models.SessionState) error {
	result, err := s.getDB().ExecContext(ctx, `
        UPDATE rigs SET session_state = $2, updated_at = $3
        WHERE id = $1 AND session_state IS NOT NULL
        AND session_state->>'holderId' = $4
        AND (session_state->>'waitingForMovement')::boolean`,
		rigID, state, time.Now(), state.HolderID.String())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		if _, err := s.GetRig(ctx, rigID); err != nil {
			return err
		}
		return ErrConflict
	}

	return nil
}

// ClearRigSessionState clears the session sub-state
func (s *PostgresStore) ClearRigSessionState(ctx context.Context, rigID uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx,
		"UPDATE rigs SET session_state = NULL, updated_at = $2 WHERE id = $1",
		rigID, time.Now())
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

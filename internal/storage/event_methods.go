package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// ========== Event Log Methods ==========

// CreateEventLog creates an event log entry
func (s *PostgresStore) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO event_logs (
            id, created_at, rig_id, account_id, type, level, description, details
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.RigID, event.AccountID,
		event.Type, event.Level, event.Description, event.Details,
	)

	return err
}

// ListEventLogs lists event logs with filters
func (s *PostgresStore) ListEventLogs(ctx context.Context, filters EventLogFilters, limit, offset int) ([]*models.EventLog, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	argIdx := 1

	addFilter := func(clause string, value interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", clause, argIdx)
		args = append(args, value)
		argIdx++
	}

	if filters.RigID != nil {
		addFilter("rig_id", *filters.RigID)
	}
	if filters.AccountID != nil {
		addFilter("account_id", *filters.AccountID)
	}
	if filters.Type != nil {
		addFilter("type", *filters.Type)
	}
	if filters.Level != nil {
		addFilter("level", *filters.Level)
	}
	if filters.StartTime != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filters.StartTime)
		argIdx++
	}
	if filters.EndTime != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *filters.EndTime)
		argIdx++
	}

	var count int64
	err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM event_logs "+where, args...,
	).Scan(&count)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, rig_id, account_id, type, level, description, details
        FROM event_logs %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.EventLog
	for rows.Next() {
		event := &models.EventLog{}
		err := rows.Scan(
			&event.ID, &event.CreatedAt, &event.RigID, &event.AccountID,
			&event.Type, &event.Level, &event.Description, &event.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, count, nil
}

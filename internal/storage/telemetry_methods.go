package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// ========== Telemetry Methods ==========

// CreateTelemetrySample creates a telemetry sample record
func (s *PostgresStore) CreateTelemetrySample(ctx context.Context, sample *models.TelemetrySample) error {
	if sample.ID == uuid.Nil {
		sample.ID = uuid.New()
	}

	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}

	query := `
        INSERT INTO telemetry_samples (id, rig_id, speed_kph, moving, recorded_at)
        VALUES ($1, $2, $3, $4, $5)`

	_, err := s.getDB().ExecContext(ctx, query,
		sample.ID, sample.RigID, sample.SpeedKPH, sample.Moving, sample.RecordedAt,
	)

	return err
}

// ListRecentTelemetry lists the rig's most recent telemetry samples
func (s *PostgresStore) ListRecentTelemetry(ctx context.Context, rigID uuid.UUID, limit int) ([]*models.TelemetrySample, error) {
	query := `
        SELECT id, rig_id, speed_kph, moving, recorded_at
        FROM telemetry_samples
        WHERE rig_id = $1
        ORDER BY recorded_at DESC
        LIMIT $2`

	rows, err := s.getDB().QueryContext(ctx, query, rigID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*models.TelemetrySample
	for rows.Next() {
		sample := &models.TelemetrySample{}
		err := rows.Scan(
			&sample.ID, &sample.RigID, &sample.SpeedKPH, &sample.Moving,
			&sample.RecordedAt,
		)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

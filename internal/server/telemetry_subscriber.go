package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/loseyco/revshareracing-sub002/internal/models"
	"github.com/loseyco/revshareracing-sub002/internal/session"
	"github.com/loseyco/revshareracing-sub002/internal/storage"
)

// TelemetrySubscriber consumes agent telemetry published over NATS. It is
// an alternate ingest path next to the agent REST endpoint: agents on
// unreliable links post over HTTP, agents colocated with the broker stream.
type TelemetrySubscriber struct {
	nc          *nats.Conn
	store       storage.Store
	coordinator *session.Coordinator
	subs        []*nats.Subscription
}

// NewTelemetrySubscriber creates a telemetry subscriber
func NewTelemetrySubscriber(nc *nats.Conn, store storage.Store, coordinator *session.Coordinator) *TelemetrySubscriber {
	return &TelemetrySubscriber{
		nc:          nc,
		store:       store,
		coordinator: coordinator,
		subs:        make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until the context is cancelled
func (s *TelemetrySubscriber) Start(ctx context.Context) error {
	sub1, err := s.nc.Subscribe("rig.*.telemetry", s.handleTelemetry)
	if err != nil {
		return fmt.Errorf("subscribe rig telemetry: %w", err)
	}
	s.subs = append(s.subs, sub1)

	sub2, err := s.nc.Subscribe("rig.*.heartbeat", s.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe rig heartbeat: %w", err)
	}
	s.subs = append(s.subs, sub2)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("Telemetry subscriber started")

	<-ctx.Done()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// rigIDFromSubject extracts the rig ID token from subjects like
// rig.<id>.telemetry
func rigIDFromSubject(subject string) (uuid.UUID, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 {
		return uuid.Nil, fmt.Errorf("unexpected subject %q", subject)
	}
	return uuid.Parse(parts[1])
}

// handleTelemetry handles motion samples
func (s *TelemetrySubscriber) handleTelemetry(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received rig telemetry")

	rigID, err := rigIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Invalid telemetry subject")
		return
	}

	var telemetryMsg struct {
		SpeedKPH   float64   `json:"speedKph"`
		Moving     bool      `json:"moving"`
		RecordedAt time.Time `json:"recordedAt"`
	}

	if err := json.Unmarshal(msg.Data, &telemetryMsg); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal rig telemetry")
		return
	}

	if telemetryMsg.RecordedAt.IsZero() {
		telemetryMsg.RecordedAt = time.Now()
	}

	ctx := context.Background()

	sample := &models.TelemetrySample{
		RigID:      rigID,
		SpeedKPH:   telemetryMsg.SpeedKPH,
		Moving:     telemetryMsg.Moving,
		RecordedAt: telemetryMsg.RecordedAt,
	}

	if err := s.store.CreateTelemetrySample(ctx, sample); err != nil {
		log.Error().Err(err).Str("rigId", rigID.String()).Msg("Failed to store telemetry sample")
	}

	if err := s.coordinator.HandleTelemetry(ctx, rigID, sample); err != nil {
		log.Error().Err(err).Str("rigId", rigID.String()).Msg("Failed to process telemetry")
	}
}

// handleHeartbeat handles agent heartbeats
func (s *TelemetrySubscriber) handleHeartbeat(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Msg("Received rig heartbeat")

	rigID, err := rigIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Invalid heartbeat subject")
		return
	}

	var heartbeatMsg struct {
		HardwareReady *bool `json:"hardwareReady,omitempty"`
	}

	if err := json.Unmarshal(msg.Data, &heartbeatMsg); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal rig heartbeat")
		return
	}

	ctx := context.Background()
	if err := s.store.TouchRigHeartbeat(ctx, rigID, heartbeatMsg.HardwareReady); err != nil {
		log.Error().Err(err).Str("rigId", rigID.String()).Msg("Failed to record heartbeat")
	}
}

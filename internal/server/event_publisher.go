package server

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// SessionEventPublisher pushes session transitions onto NATS so spectator
// surfaces (stream overlay, queue UI) can update without polling.
type SessionEventPublisher struct {
	nc *nats.Conn
}

// NewSessionEventPublisher creates a session event publisher
func NewSessionEventPublisher(nc *nats.Conn) *SessionEventPublisher {
	return &SessionEventPublisher{nc: nc}
}

// PublishSessionEvent publishes a session transition, best-effort
func (p *SessionEventPublisher) PublishSessionEvent(rigID uuid.UUID, event string, details models.Variables) {
	payload := map[string]interface{}{
		"rigId":   rigID.String(),
		"event":   event,
		"details": details,
		"at":      time.Now().Format(time.RFC3339),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal session event")
		return
	}

	subject := fmt.Sprintf("session.%s.events", rigID)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish session event")
	}
}

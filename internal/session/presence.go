package session

import (
	"time"

	"github.com/loseyco/revshareracing-sub002/internal/models"
)

// Presence derives agent liveness and hardware readiness from the
// heartbeat timestamp and readiness flag the agent reports.
type Presence struct {
	onlineThreshold time.Duration
}

// NewPresence creates a presence monitor
func NewPresence(onlineThreshold time.Duration) *Presence {
	return &Presence{onlineThreshold: onlineThreshold}
}

// Online reports whether the rig's agent heartbeat is fresh enough
func (p *Presence) Online(rig *models.Rig, now time.Time) bool {
	if rig.HeartbeatAt == nil {
		return false
	}
	return now.Sub(*rig.HeartbeatAt) < p.onlineThreshold
}

// HardwareReady reports whether the agent has explicitly reported the
// hardware ready. Unknown counts as not ready.
func (p *Presence) HardwareReady(rig *models.Rig) bool {
	return rig.HardwareReady != nil && *rig.HardwareReady
}

// Stale reports whether the heartbeat has been silent past the grace window
func (p *Presence) Stale(rig *models.Rig, grace time.Duration, now time.Time) bool {
	if rig.HeartbeatAt == nil {
		return true
	}
	return now.Sub(*rig.HeartbeatAt) >= grace
}

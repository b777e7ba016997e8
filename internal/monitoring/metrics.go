package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigshare_queue_joins_total",
			Help: "Total queue join attempts",
		},
		[]string{"status"},
	)

	sessionsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigshare_sessions_activated_total",
			Help: "Total sessions activated",
		},
	)

	sessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigshare_sessions_completed_total",
			Help: "Total sessions completed, by reason",
		},
		[]string{"reason"},
	)

	sessionsRefunded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigshare_sessions_refunded_total",
			Help: "Total sessions force-completed with a credit refund",
		},
	)

	activationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigshare_activation_failures_total",
			Help: "Total activation failures, by error kind",
		},
		[]string{"kind"},
	)

	commandPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigshare_command_polls_total",
			Help: "Total agent command polls",
		},
	)

	commandsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigshare_commands_completed_total",
			Help: "Total command completions reported by agents, by status",
		},
		[]string{"status"},
	)
)

// QueueJoin records a queue join attempt
func QueueJoin(status string) {
	queueJoins.WithLabelValues(status).Inc()
}

// SessionActivated records a successful activation
func SessionActivated() {
	sessionsActivated.Inc()
}

// SessionCompleted records a session completion
func SessionCompleted(reason string) {
	sessionsCompleted.WithLabelValues(reason).Inc()
}

// SessionRefunded records a refunded session
func SessionRefunded() {
	sessionsRefunded.Inc()
}

// ActivationFailure records a failed activation
func ActivationFailure(kind string) {
	activationFailures.WithLabelValues(kind).Inc()
}

// CommandPoll records an agent poll
func CommandPoll() {
	commandPolls.Inc()
}

// CommandCompleted records an agent-reported command completion
func CommandCompleted(status string) {
	commandsCompleted.WithLabelValues(status).Inc()
}

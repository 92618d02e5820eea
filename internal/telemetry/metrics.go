package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoot_session_transitions_total",
		Help: "Session status transitions applied, by target status.",
	}, []string{"to"})

	answersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hoot_answers_submitted_total",
		Help: "Accepted answer submissions.",
	}, []string{"correct"})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hoot_channel_reconnect_attempts_total",
		Help: "Resubscribe attempts made by channel supervisors.",
	})
)

func CountTransition(to string) {
	sessionTransitions.WithLabelValues(to).Inc()
}

func CountAnswer(correct bool) {
	answersSubmitted.WithLabelValues(strconv.FormatBool(correct)).Inc()
}

func CountReconnectAttempt() {
	reconnectAttempts.Inc()
}

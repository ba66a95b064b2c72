package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callwatch"

var (
	// ExternalRequests counts DexScreener, Moralis and uptime lookups by outcome.
	ExternalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "external_requests_total",
		Help:      "Lookups against third-party APIs.",
	}, []string{"service", "outcome"})

	AlertsPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_posted_total",
		Help:      "Alerts posted to the alert channel.",
	}, []string{"kind"})

	FollowUpsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "follow_ups_sent_total",
		Help:      "Follow-up replies sent for tracked alerts.",
	}, []string{"kind"})

	AlertsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_expired_total",
		Help:      "Alerts deleted after their follow-up schedule ended.",
	})

	PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_cycles_total",
		Help:      "Poller cycles by result.",
	}, []string{"result"})

	CommandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_handled_total",
		Help:      "Management bot commands processed.",
	}, []string{"command"})

	RunningUserbots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "userbots_running",
		Help:      "Userbots currently connected.",
	})
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeFixture  = "fixture"
)

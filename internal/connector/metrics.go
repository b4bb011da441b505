package connector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeSessionsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_bridge_active_sessions",
		Help: "The number of bridges not yet disposed",
	})
	pendingCallsMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_bridge_pending_calls",
		Help: "The number of requests awaiting a reply",
	})
	requestsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bridge_requests",
		Help: "The total number of requests sent to target pages",
	}, []string{"action"})
	repliesMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_bridge_replies",
		Help: "The total number of settled requests by outcome",
	}, []string{"action", "outcome"})
	ignoredRepliesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_ignored_replies",
		Help: "The total number of replies matching no pending request",
	})
	wrongPortsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_bridge_wrong_ports",
		Help: "The total number of ports refused for a name, sender or url mismatch",
	})
)

// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection, presence, and room counts, counters for
// message and moderation throughput, and a histogram for fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one
	// live connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Current number of distinct online users",
	})

	// ActiveRooms tracks the current number of rooms with at least one
	// joined connection.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_rooms",
		Help: "Current number of rooms with live members",
	})

	// MessagesTotal counts processed messages, labeled by outcome:
	// "delivered", "blocked", or "failed".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"})

	// ReportsTotal counts report submissions, labeled by outcome:
	// "accepted", "duplicate", or "rejected".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_reports_total",
		Help: "Total number of report submissions",
	}, []string{"outcome"})

	// BansTotal counts created bans, labeled by reason.
	BansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_bans_total",
		Help: "Total number of bans created",
	}, []string{"reason"})

	// AuthTotal counts authentication attempts, labeled by result:
	// "ok" or "failed".
	AuthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_auth_total",
		Help: "Total number of connection authentication attempts",
	}, []string{"result"})

	// FanoutLatency records the time to fan a message out to its
	// destination connections.
	FanoutLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_fanout_latency_seconds",
		Help:    "Message fan-out latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		ActiveRooms,
		MessagesTotal,
		ReportsTotal,
		BansTotal,
		AuthTotal,
		FanoutLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

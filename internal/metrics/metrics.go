// Package metrics exposes the bot's Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds every counter the bot updates. A single Set is created at
// startup and threaded through the components that record to it.
type Set struct {
	reg *prometheus.Registry

	MessagesAdmitted  prometheus.Counter
	MessagesDenied    prometheus.Counter
	MessagesThrottled prometheus.Counter

	BroadcastOK   prometheus.Counter
	BroadcastFail prometheus.Counter

	BackupsTotal prometheus.Counter
	BackupErrors prometheus.Counter

	AIRequests prometheus.Counter
	AIErrors   prometheus.Counter
}

func New() *Set {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Set{
		reg: reg,
		MessagesAdmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_messages_admitted_total",
			Help: "Messages that passed authorization and rate limiting.",
		}),
		MessagesDenied: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_messages_denied_total",
			Help: "Messages rejected by authorization.",
		}),
		MessagesThrottled: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_messages_throttled_total",
			Help: "Messages rejected by the rate limiter.",
		}),
		BroadcastOK: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_broadcast_deliveries_total",
			Help: "Broadcast deliveries that reached the recipient.",
		}),
		BroadcastFail: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_broadcast_failures_total",
			Help: "Broadcast recipients that failed on every strategy.",
		}),
		BackupsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_backups_total",
			Help: "Completed backup snapshots, automatic and manual.",
		}),
		BackupErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_backup_errors_total",
			Help: "Backup snapshots that failed.",
		}),
		AIRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_ai_requests_total",
			Help: "Chat completion requests sent to the AI backend.",
		}),
		AIErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "guardbot_ai_errors_total",
			Help: "Chat completion requests that failed.",
		}),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (s *Set) Registry() *prometheus.Registry { return s.reg }

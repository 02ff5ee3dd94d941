// Package metrics exposes Prometheus counters for the moderation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MessagesScanned prometheus.Counter
	Violations      *prometheus.CounterVec
	Mutes           prometheus.Counter
	Unmutes         prometheus.Counter
	MuteFailures    prometheus.Counter
	TicketsOpened   prometheus.Counter
	TicketsClosed   prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		MessagesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_messages_scanned_total",
			Help: "Messages that passed through the moderation pipeline.",
		}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardia_violations_total",
			Help: "Rule violations by rule kind.",
		}, []string{"rule"}),
		Mutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_mutes_total",
			Help: "Automatic mutes applied.",
		}),
		Unmutes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_unmutes_total",
			Help: "Automatic unmutes applied.",
		}),
		MuteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_mute_failures_total",
			Help: "Mutes that could not be applied.",
		}),
		TicketsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_tickets_opened_total",
			Help: "Support tickets opened.",
		}),
		TicketsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardia_tickets_closed_total",
			Help: "Support tickets closed.",
		}),
	}
	registry.MustRegister(
		m.MessagesScanned,
		m.Violations,
		m.Mutes,
		m.Unmutes,
		m.MuteFailures,
		m.TicketsOpened,
		m.TicketsClosed,
	)
	return m
}

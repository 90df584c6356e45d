package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_deliveries_total",
			Help: "Delivery lifecycle counter by stage",
		},
		[]string{"stage"}, // scheduled|sent|failed|cancelled|consent_blocked|rescheduled
	)

	ConsentEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_consent_events_total",
			Help: "Recorded consent events by resulting state",
		},
		[]string{"state"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		ConsentEventsTotal,
	)
}

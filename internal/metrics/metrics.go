// Package metrics holds the Prometheus collectors shared by the CRM.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_record_mutations_total",
			Help: "Record store writes by collection and operation",
		},
		[]string{"kind", "op"},
	)
	AssistantTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_assistant_turns_total",
			Help: "Assistant replies by outcome",
		},
		[]string{"outcome"},
	)
	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_extraction_duration_seconds",
			Help:    "Latency of intent extraction calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)
	LiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crm_live_subscriptions",
			Help: "Open collection subscriptions served over SSE",
		},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{RecordMutations, AssistantTurns, ExtractionDuration, LiveSubscriptions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

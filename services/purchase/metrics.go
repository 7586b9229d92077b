package purchase

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeCompleted = "completed"
	outcomeReplayed  = "replayed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

var (
	reconciliations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "purchase_reconciliations_total",
		Help: "Payment reconciliations by outcome.",
	}, []string{"outcome"})
	webhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment webhook deliveries by event type and result.",
	}, []string{"type", "result"})
)

func init() {
	prometheus.MustRegister(reconciliations, webhookEvents)
}

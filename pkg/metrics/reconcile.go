package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics counts reconciliation outcomes. The refund_pending counter
// backs alerting: every increment is money sitting with the gateway that a
// customer has not gotten back.
type ReconcileMetrics struct {
	outcomes      *prometheus.CounterVec
	refundPending prometheus.Counter
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Terminal reconciliation outcomes by status and kind.",
	}, []string{"status", "kind"})
	refundPending := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_refund_pending_total",
		Help: "Transactions parked in refund_pending after a failed refund call.",
	})
	reg.MustRegister(outcomes, refundPending)
	return &ReconcileMetrics{
		outcomes:      outcomes,
		refundPending: refundPending,
	}
}

// IncOutcome records a terminal status for the given transaction kind.
func (m *ReconcileMetrics) IncOutcome(status, kind string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(status), normalizeLabel(kind)).Inc()
}

// IncRefundPending records a refund that could not be issued.
func (m *ReconcileMetrics) IncRefundPending() {
	if m == nil || m.refundPending == nil {
		return
	}
	m.refundPending.Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsistencyMetrics exposes counters for the consistency machinery around
// bookings, payments and the medical-event projection. All methods are
// nil-safe so callers can run without a registry in tests.
type ConsistencyMetrics struct {
	reconcileRetries   *prometheus.CounterVec
	reconcileExhausted *prometheus.CounterVec
	projectionUpserts  *prometheus.CounterVec
	sweepMismatches    *prometheus.CounterVec
	slotConflicts      prometheus.Counter
}

func NewConsistencyMetrics(reg prometheus.Registerer) *ConsistencyMetrics {
	m := &ConsistencyMetrics{
		reconcileRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "consistency",
			Name:      "reconcile_retries_total",
			Help:      "Retried reconciliation attempts after transient database errors",
		}, []string{"component"}),
		reconcileExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "consistency",
			Name:      "reconcile_exhausted_total",
			Help:      "Reconciliation runs that gave up after exhausting retries",
		}, []string{"component"}),
		projectionUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reporting",
			Name:      "projection_upserts_total",
			Help:      "Medical-event projection writes by source type",
		}, []string{"source_type"}),
		sweepMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "billing",
			Name:      "sweep_mismatch_total",
			Help:      "Charges found inconsistent by the reconciliation sweep",
		}, []string{"kind"}),
		slotConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "scheduling",
			Name:      "slot_conflicts_total",
			Help:      "Booking attempts rejected because the slot was taken",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reconcileRetries, m.reconcileExhausted, m.projectionUpserts, m.sweepMismatches, m.slotConflicts)
	return m
}

func (m *ConsistencyMetrics) ObserveReconcileRetry(component string) {
	if m == nil {
		return
	}
	m.reconcileRetries.WithLabelValues(component).Inc()
}

func (m *ConsistencyMetrics) ObserveReconcileExhausted(component string) {
	if m == nil {
		return
	}
	m.reconcileExhausted.WithLabelValues(component).Inc()
}

func (m *ConsistencyMetrics) ObserveProjectionUpsert(sourceType string) {
	if m == nil {
		return
	}
	m.projectionUpserts.WithLabelValues(sourceType).Inc()
}

func (m *ConsistencyMetrics) ObserveSweepMismatch(kind string) {
	if m == nil {
		return
	}
	m.sweepMismatches.WithLabelValues(kind).Inc()
}

func (m *ConsistencyMetrics) ObserveSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
}

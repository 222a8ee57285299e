package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for reservation operations.
const (
	OutcomeOK         = "ok"
	OutcomeReplayed   = "replayed"
	OutcomeNoop       = "noop"
	OutcomeOutOfStock = "out_of_stock"
	OutcomeError      = "error"
)

// ReservationMetrics counts reserve/release/commit outcomes and ledger
// inconsistencies seen while releasing.
type ReservationMetrics struct {
	operations      *prometheus.CounterVec
	units           *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
}

// NewReservationMetrics registers the reservation metrics on reg. A nil
// registerer yields a no-op recorder.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcore_reservation_operations_total",
		Help: "Reservation engine calls by operation and outcome.",
	}, []string{"operation", "outcome"})
	units := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcore_reservation_units_total",
		Help: "Stock units moved by the reservation engine.",
	}, []string{"operation"})
	inconsistencies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shopcore_reservation_inconsistencies_total",
		Help: "Releases where reserved_quantity was below the ledger amount.",
	}, []string{"operation"})
	reg.MustRegister(operations, units, inconsistencies)
	return &ReservationMetrics{
		operations:      operations,
		units:           units,
		inconsistencies: inconsistencies,
	}
}

// Observe records one operation outcome.
func (m *ReservationMetrics) Observe(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// AddUnits records units moved by an operation.
func (m *ReservationMetrics) AddUnits(operation string, units int) {
	if m == nil || m.units == nil || units <= 0 {
		return
	}
	m.units.WithLabelValues(normalizeLabel(operation)).Add(float64(units))
}

// IncInconsistency records a clamped reserved_quantity.
func (m *ReservationMetrics) IncInconsistency(operation string) {
	if m == nil || m.inconsistencies == nil {
		return
	}
	m.inconsistencies.WithLabelValues(normalizeLabel(operation)).Inc()
}

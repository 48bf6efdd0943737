package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	MatchInvocationsTotal     *prometheus.CounterVec
	ReservationConflicts      prometheus.Counter
	DispatchOutcomesTotal     *prometheus.CounterVec
	CandidatePoolSize         prometheus.Histogram
	VerificationTransitions   *prometheus.CounterVec
	StaleAssignmentsReclaimed prometheus.Counter
}

// New registers the matching/verification metrics against the default
// registry. Tests use NewWithRegistry to avoid duplicate registration.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics against the given registerer
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MatchInvocationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gudam_matching_invocations_total",
			Help: "Total number of match ranking invocations by outcome",
		}, []string{"outcome"}),
		ReservationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gudam_matching_reservation_conflicts_total",
			Help: "Total number of reservation attempts lost to a capacity race",
		}),
		DispatchOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gudam_notification_dispatch_outcomes_total",
			Help: "Total notification dispatch outcomes by channel and status",
		}, []string{"channel", "status"}),
		CandidatePoolSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gudam_matching_candidate_pool_size",
			Help:    "Eligible candidate pool size per ranking invocation",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		VerificationTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gudam_verification_transitions_total",
			Help: "Total verification state transitions by target state",
		}, []string{"to"}),
		StaleAssignmentsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gudam_verification_stale_assignments_reclaimed_total",
			Help: "Total stale assignments revoked by the reconciliation sweep",
		}),
	}
}

func (m *Metrics) ObserveMatch(outcome string, poolSize int) {
	m.MatchInvocationsTotal.WithLabelValues(outcome).Inc()
	m.CandidatePoolSize.Observe(float64(poolSize))
}

func (m *Metrics) IncrementReservationConflicts() {
	m.ReservationConflicts.Inc()
}

func (m *Metrics) ObserveDispatch(channel, status string) {
	m.DispatchOutcomesTotal.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) ObserveTransition(to string) {
	m.VerificationTransitions.WithLabelValues(to).Inc()
}

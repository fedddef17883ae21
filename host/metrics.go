package host

import (
	stderrors "errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/simplicity-bridge/compiler"
	"github.com/wippyai/simplicity-bridge/errors"
)

const metricsNamespace = "simplicity"

// Request outcomes, used as the outcome label.
const (
	OutcomeSuccess           = "success"
	OutcomeCompilerError     = "compiler_error"
	OutcomeWitnessInvalid    = "witness_invalid"
	OutcomeInvalidInput      = "invalid_input"
	OutcomeInvocationFailure = "invocation_failure"
	OutcomeProtocolViolation = "protocol_violation"
	OutcomeUnavailable       = "unavailable"
	OutcomeSessionClosed     = "session_closed"
	OutcomeTransport         = "transport"
	OutcomeOther             = "other"
)

// Metrics holds the Prometheus collectors shared by all hosts. A nil
// *Metrics records nothing.
type Metrics struct {
	// Requests counts submitted requests.
	// Labels: host (page, widget, relay), outcome
	Requests *prometheus.CounterVec

	// Duration measures submit latency, instantiation included.
	// Labels: host
	Duration *prometheus.HistogramVec

	// Sessions counts sessions created.
	// Labels: host
	Sessions *prometheus.CounterVec

	// Inconsistencies counts Consistency diagnostics on results.
	Inconsistencies prometheus.Counter

	// Reloads counts registry reloads.
	// Labels: result (changed, unchanged, error)
	Reloads *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg. Use
// prometheus.NewRegistry in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Compilation requests by host and outcome",
			},
			[]string{"host", "outcome"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "request_duration_seconds",
				Help:      "Time to answer a compilation request",
				Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"host"},
		),
		Sessions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_created_total",
				Help:      "Runtime sessions created by host",
			},
			[]string{"host"},
		),
		Inconsistencies: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "consistency_errors_total",
				Help:      "Results where module and normalizer disagreed",
			},
		),
		Reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "registry_reloads_total",
				Help:      "Registry reloads by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observe(host string, res *compiler.Result, err error, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(host, Outcome(res, err)).Inc()
	m.Duration.WithLabelValues(host).Observe(seconds)
	if res != nil && len(res.Diagnostics) > 0 {
		m.Inconsistencies.Add(float64(len(res.Diagnostics)))
	}
}

func (m *Metrics) sessionCreated(host string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(host).Inc()
}

func (m *Metrics) reloaded(result string) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(result).Inc()
}

// Outcome classifies a submit result for metrics and logs.
func Outcome(res *compiler.Result, err error) string {
	if err == nil {
		if res != nil && res.Error != nil {
			return OutcomeCompilerError
		}
		return OutcomeSuccess
	}
	if errors.IsStartup(err) {
		return OutcomeUnavailable
	}
	switch errors.KindOf(err) {
	case errors.KindWitnessValidation:
		return OutcomeWitnessInvalid
	case errors.KindInvalidInput:
		return OutcomeInvalidInput
	case errors.KindInvocationFailure:
		return OutcomeInvocationFailure
	case errors.KindProtocolViolation:
		return OutcomeProtocolViolation
	case errors.KindSessionClosed:
		return OutcomeSessionClosed
	case errors.KindTransport:
		return OutcomeTransport
	}
	if stderrors.Is(err, errors.ErrInvocationFailure) {
		return OutcomeInvocationFailure
	}
	return OutcomeOther
}

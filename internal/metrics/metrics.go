// Package metrics exposes escrow and dispatch counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/escrowhub/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Registry owns every collector the server exports. It implements the
// escrow service's Recorder and the dispatcher's DispatchRecorder.
type Registry struct {
	registry       *prometheus.Registry
	transitions    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	payouts        *prometheus.CounterVec
	payoutAmount   *prometheus.CounterVec
	dispatch       *prometheus.CounterVec
	backlog        *prometheus.GaugeVec
	httpRequests   *prometheus.CounterVec
	httpDurationMs *prometheus.HistogramVec
}

func New() *Registry {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_transitions_total",
		Help: "Committed job transitions by action and resulting status",
	}, []string{"action", "status"})

	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_rejections_total",
		Help: "Rejected job operations by action and reason",
	}, []string{"action", "reason"})

	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_payment_instructions_total",
		Help: "Payment instructions recorded by kind",
	}, []string{"kind"})

	payoutAmount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_payment_amount_total",
		Help: "Token amount committed to payment instructions by kind",
	}, []string{"kind"})

	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_dispatch_attempts_total",
		Help: "Payment rail dispatch outcomes by kind and result",
	}, []string{"kind", "result"})

	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "escrowhub_payment_instructions",
		Help: "Payment instructions currently in each status",
	}, []string{"status"})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowhub_http_requests_total",
		Help: "HTTP requests by route pattern, method and status code",
	}, []string{"route", "method", "code"})

	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrowhub_http_request_duration_ms",
		Help:    "HTTP request latency in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"route", "method"})

	r := prometheus.NewRegistry()
	r.MustRegister(transitions, rejections, payouts, payoutAmount, dispatch, backlog, httpRequests, httpDuration)

	return &Registry{
		registry:       r,
		transitions:    transitions,
		rejections:     rejections,
		payouts:        payouts,
		payoutAmount:   payoutAmount,
		dispatch:       dispatch,
		backlog:        backlog,
		httpRequests:   httpRequests,
		httpDurationMs: httpDuration,
	}
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) ObserveTransition(action, status string) {
	m.transitions.WithLabelValues(action, status).Inc()
}

func (m *Registry) ObserveRejection(action, reason string) {
	m.rejections.WithLabelValues(action, reason).Inc()
}

func (m *Registry) ObservePayout(kind models.PaymentKind, amount decimal.Decimal) {
	m.payouts.WithLabelValues(string(kind)).Inc()
	m.payoutAmount.WithLabelValues(string(kind)).Add(amount.InexactFloat64())
}

func (m *Registry) ObserveDispatch(kind models.PaymentKind, result string) {
	m.dispatch.WithLabelValues(string(kind), result).Inc()
}

func (m *Registry) SetBacklog(status string, n int) {
	m.backlog.WithLabelValues(status).Set(float64(n))
}

// ObserveRequest records one served HTTP request.
func (m *Registry) ObserveRequest(route, method string, code int, durationMs float64) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDurationMs.WithLabelValues(route, method).Observe(durationMs)
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "petshop"

// Reconciliation records sales operations and the stock movements they cause.
// A nil *Reconciliation is valid and records nothing.
type Reconciliation struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	stockUnits *prometheus.CounterVec
}

// NewReconciliation registers the reconciliation metrics on reg.
func NewReconciliation(reg prometheus.Registerer) *Reconciliation {
	if reg == nil {
		return &Reconciliation{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sales_operations_total",
		Help:      "Sales reconciliation operations by outcome.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sales_operation_duration_seconds",
		Help:      "Duration of sales reconciliation operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	stockUnits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_units_total",
		Help:      "Units moved out of (decrement) or back into (restore) inventory.",
	}, []string{"direction"})
	reg.MustRegister(operations, duration, stockUnits)
	return &Reconciliation{
		operations: operations,
		duration:   duration,
		stockUnits: stockUnits,
	}
}

// Observe counts one finished operation. code is empty on success.
func (r *Reconciliation) Observe(operation string, code string, elapsed time.Duration) {
	if r == nil || r.operations == nil {
		return
	}
	outcome := "ok"
	if code != "" {
		outcome = code
	}
	r.operations.WithLabelValues(normalizeLabel(operation), outcome).Inc()
	r.duration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

// StockMoved records the net stock delta of a committed operation.
func (r *Reconciliation) StockMoved(delta int) {
	if r == nil || r.stockUnits == nil || delta == 0 {
		return
	}
	if delta < 0 {
		r.stockUnits.WithLabelValues("decrement").Add(float64(-delta))
		return
	}
	r.stockUnits.WithLabelValues("restore").Add(float64(delta))
}

// HTTP records request latency per route pattern.
type HTTP struct {
	requests *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		return &HTTP{}
	}
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	reg.MustRegister(requests)
	return &HTTP{requests: requests}
}

func (h *HTTP) ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	if h == nil || h.requests == nil {
		return
	}
	h.requests.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReconciliationCountsOutcomesAndStock(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconciliation(reg)

	m.Observe("record", "", 20*time.Millisecond)
	m.Observe("record", "NOT_FOUND", 5*time.Millisecond)
	m.Observe("", "", time.Millisecond)
	m.StockMoved(-15)
	m.StockMoved(7)
	m.StockMoved(0)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("record", "ok")); got != 1 {
		t.Fatalf("expected record ok=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("record", "NOT_FOUND")); got != 1 {
		t.Fatalf("expected record NOT_FOUND=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("unknown", "ok")); got != 1 {
		t.Fatalf("expected unknown ok=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.stockUnits.WithLabelValues("decrement")); got != 15 {
		t.Fatalf("expected decrement=15, got %f", got)
	}
	if got := testutil.ToFloat64(m.stockUnits.WithLabelValues("restore")); got != 7 {
		t.Fatalf("expected restore=7, got %f", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 2 {
		t.Fatalf("expected 2 duration series, got %d", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var r *Reconciliation
	r.Observe("record", "", time.Second)
	r.StockMoved(-1)

	var h *HTTP
	h.ObserveRequest(http.MethodGet, "/sales", http.StatusOK, time.Second)

	NewReconciliation(nil).Observe("record", "", time.Second)
	NewHTTP(nil).ObserveRequest(http.MethodGet, "/sales", http.StatusOK, time.Second)
}

func TestHTTPObservesRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTP(reg)
	h.ObserveRequest(http.MethodPost, "/sales", http.StatusCreated, 10*time.Millisecond)

	if got := testutil.CollectAndCount(h.requests, "petshop_http_request_duration_seconds"); got != 1 {
		t.Fatalf("expected 1 series, got %d", got)
	}
}

package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/pricewatch/internal/core/domain"
)

func TestPipelineMetricsObserveCollection(t *testing.T) {
	m := NewPipelineMetrics("worker")

	m.ObserveCollection(domain.CollectionResult{
		State: domain.CollectionProcessed, Inserted: 3, Duplicates: 2, RejectedCount: 1, Duration: time.Second,
	})
	m.ObserveCollection(domain.CollectionResult{State: domain.CollectionUnprocessed})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.collectionsTotal.WithLabelValues("worker", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collectionsTotal.WithLabelValues("worker", "unprocessed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("worker", "inserted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("worker", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal.WithLabelValues("worker", "rejected")))
}

func TestPipelineMetricsObserveTagging(t *testing.T) {
	m := NewPipelineMetrics("worker")

	m.ObserveTagging(domain.TagSummary{
		Assigned:  4,
		Unmatched: 1,
		Ambiguous: []domain.AmbiguousMatch{{ArticleID: 1}, {ArticleID: 2}},
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.tagDecisionsTotal.WithLabelValues("worker", "assigned")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tagDecisionsTotal.WithLabelValues("worker", "ambiguous")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tagDecisionsTotal.WithLabelValues("worker", "unmatched")))
}

func TestPipelineMetricsCycleStatus(t *testing.T) {
	m := NewPipelineMetrics("worker")

	m.StartCycle()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycleInFlight))
	m.FinishCycle("cron", time.Millisecond, fmt.Errorf("load: %w", domain.WrapError(domain.ErrLoaderBusy, "lock", errors.New("held"))))
	m.StartCycle()
	m.FinishCycle("event", time.Millisecond, nil)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.cycleInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("worker", "cron", "busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("worker", "event", "success")))

	m.ObserveRetry("nats.publish", 1, errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("worker", "nats.publish")))
}

func TestHTTPMiddlewareRecordsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/reports/by-tag", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("api", "GET", "/v1/reports/by-tag", "418")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("api", "GET", "other", "418")))

	m.RecordReport("api", "by-tag", "", 3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `pricewatch_report_served_total{format="json",kind="by-tag",service="api"} 1`))
}

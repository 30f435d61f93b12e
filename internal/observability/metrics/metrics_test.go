package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("outcome", "created"),
		attribute.String("org_id", "456"),
		attribute.String("role", "member"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "org_id" {
			t.Fatalf("expected org_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordOrgProvisioned(context.Background(), "created")
	m.RecordWebhookEvent(context.Background(), "stripe", "x", "ok")

	var tm *TenancyMetrics
	tm.ObserveLockWait("provisioning", LockOutcomeAcquired, 0.1)
	tm.IncProvisioningFailure(errors.New("boom"))
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordInviteAccepted(context.Background(), "accepted")
}

func TestClassifyFailureReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: fmt.Errorf("wrap: %w", context.DeadlineExceeded), want: FailureReasonDeadlineExceeded},
		{name: "canceled", err: context.Canceled, want: FailureReasonCanceled},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: FailureReasonLockTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: FailureReasonSerializationFailure},
		{name: "unique_pg", err: &pgconn.PgError{Code: "23505"}, want: FailureReasonUniqueViolation},
		{name: "unique_gorm", err: gorm.ErrDuplicatedKey, want: FailureReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: FailureReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyFailureReason(tc.err))
		})
	}
}

func TestTenancyMetricsCountsFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := newTenancyMetrics(registry, Config{ServiceName: "fieldops", Environment: "test"})
	require.NoError(t, err)

	m.IncProvisioningFailure(&pgconn.PgError{Code: "55P03"})
	m.IncProvisioningFailure(&pgconn.PgError{Code: "55P03"})

	got := testutil.ToFloat64(m.provisioningFailure.WithLabelValues(FailureReasonLockTimeout))
	assert.Equal(t, 2.0, got)
}

func TestHTTPMetricsMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m, err := newHTTPMetrics(registry, Config{Environment: "test"})
	require.NoError(t, err)

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/api/orgs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/orgs/%d", i), nil))
	}

	value := counterValue(t, registry, "fieldops_http_requests_total", map[string]string{
		"route":   "/api/orgs/:id",
		"method":  "GET",
		"status":  "204",
		"service": "fieldops",
		"env":     "test",
	})
	assert.Equal(t, 3.0, value)
}

func TestRegisterCollectorReusesExisting(t *testing.T) {
	registry := prometheus.NewRegistry()
	first, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)
	second, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)
	assert.Same(t, first.requests, second.requests)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}

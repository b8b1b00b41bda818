package prometheus

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiffinWanjohi/courier/internal/observability"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "courier_deliveries_failed", sanitizeName("courier.deliveries.failed"))
	assert.Equal(t, "_9lives", sanitizeName("9lives"))
	assert.Equal(t, "a_b_c", sanitizeName("a-b/c"))
}

func TestProvider_ServesRecordedMetrics(t *testing.T) {
	p := New(observability.MetricsConfig{ServiceName: "courier"})
	metrics := observability.NewMetrics(p, "courier")
	ctx := context.Background()

	metrics.DeliverySucceeded(ctx, "WEBEX", 200*time.Millisecond)
	metrics.DeliverySucceeded(ctx, "WEBEX", 300*time.Millisecond)
	metrics.ActiveJobs(ctx, 2)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `courier_deliveries_succeeded_total{method="WEBEX",service="courier"} 2`)
	assert.Contains(t, out, `courier_dispatcher_active_jobs{service="courier"} 2`)
	assert.Contains(t, out, "courier_deliveries_duration_seconds_bucket")
}

func TestProvider_RegisteredByName(t *testing.T) {
	provider, err := observability.NewMetricsProviderByName(context.Background(), "prometheus", observability.MetricsConfig{})
	require.NoError(t, err)

	_, ok := provider.(observability.HandlerProvider)
	assert.True(t, ok)
}

func TestProvider_NegativeCounterIgnored(t *testing.T) {
	p := New(observability.MetricsConfig{})
	assert.NotPanics(t, func() {
		p.Counter(context.Background(), "jobs.cleaned_up", -1, nil)
	})
}

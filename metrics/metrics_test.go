package metrics_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-blog-auth"
	"github.com/goliatone/go-blog-auth/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Record(t *testing.T) {
	c := metrics.New()
	ctx := context.Background()

	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventRateLimited,
		Metadata:  map[string]any{"scope": "password_reset_email"},
	}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventTokensCleaned,
		Metadata:  map[string]any{"table": "password_reset_tokens", "deleted": int64(4)},
	}))
	require.NoError(t, c.Record(ctx, auth.ActivityEvent{
		EventType: auth.ActivityEventTokensCleaned,
		Metadata:  map[string]any{"table": "password_reset_tokens", "deleted": int64(0)},
	}))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Events.WithLabelValues(string(auth.ActivityEventLoginSuccess))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RateLimited.WithLabelValues("password_reset_email")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.TokensCleaned.WithLabelValues("password_reset_tokens")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Events.WithLabelValues(string(auth.ActivityEventTokensCleaned))))
}

func TestCollector_RateLimitWithoutScope(t *testing.T) {
	c := metrics.New()
	require.NoError(t, c.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventRateLimited}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RateLimited.WithLabelValues("unknown")))
}

func TestCollector_Handler(t *testing.T) {
	c := metrics.New()
	require.NoError(t, c.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventEmailVerified}))

	app := fiber.New()
	app.Get("/metrics", c.Handler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `blogauth_auth_events_total{event="auth.email.verified"} 1`)
}

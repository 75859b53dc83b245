// Package metrics counts auth activity in Prometheus.
//
// Collector implements auth.ActivitySink, services report through the
// same events they already emit for auditing.
package metrics

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-blog-auth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blogauth"

type Collector struct {
	registry *prometheus.Registry

	// Events counts every activity event by type.
	Events *prometheus.CounterVec
	// RateLimited counts denials by scope: verify_resend_email, password_reset_ip...
	RateLimited *prometheus.CounterVec
	// TokensCleaned counts deleted token rows by table.
	TokensCleaned *prometheus.CounterVec
}

var _ auth.ActivitySink = (*Collector)(nil)

// New registers the auth counters, plus the Go and process collectors,
// on a dedicated registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Auth activity events by type.",
			},
			[]string{"event"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "denied_total",
				Help:      "Requests rejected by a rate limit, by scope.",
			},
			[]string{"scope"},
		),
		TokensCleaned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tokens",
				Name:      "cleaned_total",
				Help:      "Token rows deleted by the cleanup job, by table.",
			},
			[]string{"table"},
		),
	}

	c.registry.MustRegister(
		c.Events,
		c.RateLimited,
		c.TokensCleaned,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Record(_ context.Context, event auth.ActivityEvent) error {
	c.Events.WithLabelValues(string(event.EventType)).Inc()

	switch event.EventType {
	case auth.ActivityEventRateLimited:
		c.RateLimited.WithLabelValues(label(event.Metadata, "scope")).Inc()
	case auth.ActivityEventTokensCleaned:
		if n, ok := count(event.Metadata["deleted"]); ok && n > 0 {
			c.TokensCleaned.WithLabelValues(label(event.Metadata, "table")).Add(n)
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}

func label(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "unknown"
}

func count(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

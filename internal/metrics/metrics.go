// Package metrics exports relay activity as Prometheus metrics and serves
// them, together with a JSON health snapshot, on a small ops HTTP server.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"atisbot/internal/eventbus"
	"atisbot/internal/relay"
)

const namespace = "atisbot"

// Collector owns a private registry fed from relay tick events.
type Collector struct {
	reg *prometheus.Registry

	ticks       *prometheus.CounterVec
	duration    prometheus.Histogram
	truncated   prometheus.Counter
	lastFetch   prometheus.Gauge
	lastPublish prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	c := &Collector{
		reg: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Relay ticks by outcome.",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of relay ticks that reached the provider.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		truncated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_truncated_total",
			Help:      "Outbound messages cut to the length limit.",
		}),
		lastFetch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fetch_timestamp_seconds",
			Help:      "Unix time of the last fetch that advanced the poll timestamp.",
		}),
		lastPublish: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish.",
		}),
	}
	for _, o := range relay.Outcomes {
		c.ticks.WithLabelValues(string(o))
	}
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Observe records one tick.
func (c *Collector) Observe(res relay.TickResult) {
	c.ticks.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome == relay.OutcomeSkipped {
		return
	}
	c.duration.Observe(res.Duration.Seconds())
	if res.Truncated {
		c.truncated.Inc()
	}
	switch res.Outcome {
	case relay.OutcomePublished, relay.OutcomeUnchanged, relay.OutcomeMissing, relay.OutcomePublishFailed:
		c.lastFetch.Set(float64(res.At.Unix()))
	}
	if res.Err == nil && (res.Outcome == relay.OutcomePublished || res.Outcome == relay.OutcomeMissing) {
		c.lastPublish.Set(float64(res.At.Unix()))
	}
}

// Consume feeds relay tick events from bus into the collector until ctx is done.
func (c *Collector) Consume(ctx context.Context, bus eventbus.Bus) {
	eventbus.Consume(ctx, bus, 32, func(e eventbus.Event) {
		if e.Type != relay.EventTick {
			return
		}
		if res, ok := e.Data.(relay.TickResult); ok {
			c.Observe(res)
		}
	})
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/securechat/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Skip reasons recorded for recipients that got nothing.
const (
	SkipOffline     = "offline"
	SkipKeyNotFound = "key_not_found"
	SkipKeyFormat   = "key_format"
	SkipSeal        = "seal"
)

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messagesSubmitted *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	recipientsSkipped *prometheus.CounterVec
	fanoutDuration    *prometheus.HistogramVec
	onlineUsers       prometheus.Gauge
	rateLimited       prometheus.Counter
}

// New registers the relay collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securechat_messages_submitted_total",
				Help: "Number of messages stored",
			},
			[]string{"scope", "content_type"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securechat_deliveries_total",
				Help: "Number of pushes to live connections",
			},
			[]string{"result"},
		),
		recipientsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "securechat_recipients_skipped_total",
				Help: "Number of fanout recipients that received nothing",
			},
			[]string{"reason"},
		),
		fanoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "securechat_fanout_duration_seconds",
				Help:    "Time spent fanning out one message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"state"},
		),
		onlineUsers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "securechat_online_users",
				Help: "Number of users with at least one live connection",
			},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "securechat_rate_limited_total",
				Help: "Number of submissions rejected by the rate limiter",
			},
		),
	}

	m.registry.MustRegister(
		m.messagesSubmitted,
		m.deliveries,
		m.recipientsSkipped,
		m.fanoutDuration,
		m.onlineUsers,
		m.rateLimited,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) MessageSubmitted(scope, contentType string) {
	if m == nil {
		return
	}
	m.messagesSubmitted.WithLabelValues(scope, contentType).Inc()
}

func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(result).Inc()
}

func (m *Metrics) RecipientSkipped(reason string) {
	if m == nil {
		return
	}
	m.recipientsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) FanoutFinished(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.fanoutDuration.WithLabelValues(state).Observe(d.Seconds())
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logging.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info(ctx, "Starting metrics server", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	metricsNamespace = "order_notifier"
	pushJobName      = "order_notifier"
)

// Metrics stores Prometheus collectors for a single notifier run. The
// process is short-lived, so collectors are exported by Export instead of
// being scraped.
type Metrics struct {
	registry *prometheus.Registry

	ordersFetchedTotal       *prometheus.CounterVec
	ordersExcludedTotal      *prometheus.CounterVec
	ordersSkippedTotal       *prometheus.CounterVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	sourceFailuresTotal      *prometheus.CounterVec
	notificationSendDuration *prometheus.HistogramVec
	lastRunTimestamp         prometheus.Gauge
	lastRunSuccess           prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		ordersFetchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "orders_fetched_total",
				Help:      "Total number of candidate orders returned by a marketplace.",
			},
			[]string{"marketplace"},
		),
		ordersExcludedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "orders_excluded_total",
				Help:      "Total number of orders dropped by the region filter.",
			},
			[]string{"marketplace"},
		),
		ordersSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "orders_skipped_total",
				Help:      "Total number of orders skipped because they were already notified.",
			},
			[]string{"marketplace"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_sent_total",
				Help:      "Total number of notifications accepted by the gateway.",
			},
			[]string{"marketplace"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_failed_total",
				Help:      "Total number of notifications that failed by marketplace and reason.",
			},
			[]string{"marketplace", "reason"},
		),
		sourceFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "source_failures_total",
				Help:      "Total number of marketplaces that could not be queried.",
			},
			[]string{"marketplace"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Gateway send duration in seconds grouped by marketplace.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"marketplace"},
		),
		lastRunTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time at which the last run finished.",
			},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "last_run_success",
				Help:      "1 if every marketplace and the final save succeeded, otherwise 0.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ordersFetchedTotal,
		m.ordersExcludedTotal,
		m.ordersSkippedTotal,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.sourceFailuresTotal,
		m.notificationSendDuration,
		m.lastRunTimestamp,
		m.lastRunSuccess,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) AddOrdersFetched(marketplace string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ordersFetchedTotal.WithLabelValues(normalizeLabel(marketplace)).Add(float64(n))
}

func (m *Metrics) IncOrderExcluded(marketplace string) {
	if m == nil {
		return
	}
	m.ordersExcludedTotal.WithLabelValues(normalizeLabel(marketplace)).Inc()
}

func (m *Metrics) IncOrderSkipped(marketplace string) {
	if m == nil {
		return
	}
	m.ordersSkippedTotal.WithLabelValues(normalizeLabel(marketplace)).Inc()
}

func (m *Metrics) IncNotificationSent(marketplace string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeLabel(marketplace)).Inc()
}

func (m *Metrics) IncNotificationFailed(marketplace string, reason string) {
	if m == nil {
		return
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeLabel(marketplace), normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncSourceFailure(marketplace string) {
	if m == nil {
		return
	}
	m.sourceFailuresTotal.WithLabelValues(normalizeLabel(marketplace)).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(marketplace string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(marketplace)).Observe(seconds)
}

func (m *Metrics) SetRunFinished(at time.Time, success bool) {
	if m == nil {
		return
	}
	m.lastRunTimestamp.Set(float64(at.Unix()))
	if success {
		m.lastRunSuccess.Set(1)
	} else {
		m.lastRunSuccess.Set(0)
	}
}

// Export writes the registry to a node_exporter textfile and/or pushes it
// to a Pushgateway. Empty targets are skipped.
func (m *Metrics) Export(ctx context.Context, textfile string, pushgatewayURL string) error {
	if m == nil {
		return nil
	}

	if path := strings.TrimSpace(textfile); path != "" {
		if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
			return fmt.Errorf("failed to write metrics textfile: %w", err)
		}
	}

	if url := strings.TrimSpace(pushgatewayURL); url != "" {
		if err := push.New(url, pushJobName).Gatherer(m.registry).PushContext(ctx); err != nil {
			return fmt.Errorf("failed to push metrics: %w", err)
		}
	}

	return nil
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PassMetrics tracks pass issuance and submission health.
type PassMetrics struct {
	generations  *prometheus.CounterVec
	submissions  *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	avatarFetch  *prometheus.HistogramVec
	renderTime   prometheus.Histogram
	lastIssuedID prometheus.Gauge
}

var (
	passMetricsOnce sync.Once
	passRegistry    *PassMetrics
)

// Passes returns the lazily initialised pass metrics registry.
func Passes() *PassMetrics {
	passMetricsOnce.Do(func() {
		passRegistry = &PassMetrics{
			generations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "generations_total",
				Help:      "Pass generation attempts segmented by outcome.",
			}, []string{"outcome"}),
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "submissions_total",
				Help:      "Completed submissions segmented by role.",
			}, []string{"role"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "rejections_total",
				Help:      "Rejected flow steps segmented by step and reason.",
			}, []string{"step", "reason"}),
			avatarFetch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "avatar_fetch_seconds",
				Help:      "Latency of avatar downloads including the fallback attempt.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"outcome"}),
			renderTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "render_seconds",
				Help:      "Time spent compositing a pass image.",
				Buckets:   prometheus.DefBuckets,
			}),
			lastIssuedID: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "wazoo",
				Subsystem: "passes",
				Name:      "last_issued_id",
				Help:      "Most recently allocated pass id.",
			}),
		}
		prometheus.MustRegister(
			passRegistry.generations,
			passRegistry.submissions,
			passRegistry.rejections,
			passRegistry.avatarFetch,
			passRegistry.renderTime,
			passRegistry.lastIssuedID,
		)
	})
	return passRegistry
}

// RecordGeneration counts a generate attempt.
func (m *PassMetrics) RecordGeneration(outcome string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(label(outcome)).Inc()
}

// RecordSubmission counts a completed flow.
func (m *PassMetrics) RecordSubmission(role string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(label(role)).Inc()
}

// RecordRejection counts a user-facing rejection.
func (m *PassMetrics) RecordRejection(step, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(label(step), label(reason)).Inc()
}

func (m *PassMetrics) ObserveAvatarFetch(d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.avatarFetch.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *PassMetrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderTime.Observe(d.Seconds())
}

func (m *PassMetrics) SetLastIssuedID(id uint64) {
	if m == nil {
		return
	}
	m.lastIssuedID.Set(float64(id))
}

func label(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

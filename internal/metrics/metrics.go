// Package metrics exposes Prometheus collectors for the scheduling, dispatch
// and retention passes and for rate-limit rejections. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LeventeLantos/daily-messaging/internal/model"
)

type Metrics struct {
	Scheduled           *prometheus.CounterVec
	Dispatched          *prometheus.CounterVec
	RetentionDeleted    *prometheus.CounterVec
	RateLimitRejections *prometheus.CounterVec
	PassDuration        *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailysms_schedule_recipients_total",
				Help: "Recipients handled by scheduling passes, by outcome",
			},
			[]string{"outcome"},
		),
		Dispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailysms_dispatch_messages_total",
				Help: "Scheduled messages handled by dispatch passes, by outcome",
			},
			[]string{"outcome"},
		),
		RetentionDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailysms_retention_deleted_rows_total",
				Help: "Rows removed by the retention cleaner",
			},
			[]string{"table"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailysms_ratelimit_rejections_total",
				Help: "Admission attempts rejected by the rate limiter",
			},
			[]string{"resource"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dailysms_pass_duration_seconds",
				Help:    "Duration of scheduling, dispatch and retention passes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pass"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Scheduled, m.Dispatched, m.RetentionDeleted, m.RateLimitRejections, m.PassDuration)
	}
	return m
}

func (m *Metrics) ObserveSchedule(r model.ScheduleResult, took time.Duration) {
	if m == nil {
		return
	}
	m.Scheduled.WithLabelValues("scheduled").Add(float64(r.Scheduled))
	m.Scheduled.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.Scheduled.WithLabelValues("failed").Add(float64(r.Failed))
	m.PassDuration.WithLabelValues("schedule").Observe(took.Seconds())
}

func (m *Metrics) ObserveDispatch(r model.DispatchResult, took time.Duration) {
	if m == nil {
		return
	}
	m.Dispatched.WithLabelValues("sent").Add(float64(r.Sent))
	m.Dispatched.WithLabelValues("retried").Add(float64(r.Retried))
	m.Dispatched.WithLabelValues("failed").Add(float64(r.Failed))
	m.Dispatched.WithLabelValues("cancelled").Add(float64(r.Cancelled))
	m.PassDuration.WithLabelValues("dispatch").Observe(took.Seconds())
}

func (m *Metrics) ObserveCleanup(r model.CleanupResult, took time.Duration) {
	if m == nil {
		return
	}
	m.RetentionDeleted.WithLabelValues("scheduled_messages").Add(float64(r.ScheduledDeleted))
	m.RetentionDeleted.WithLabelValues("message_logs").Add(float64(r.LogsDeleted))
	m.PassDuration.WithLabelValues("retention").Observe(took.Seconds())
}

// RateLimitRejected matches the ratelimit reject hook signature.
func (m *Metrics) RateLimitRejected(resource string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(resource).Inc()
}

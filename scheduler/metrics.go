package scheduler

import (
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	levelLabel   = "level"
	reasonLabel  = "reason"
	errTypeLabel = "error_type"
)

var (
	jobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_jobs_scheduled_total",
		Help: "The number of scheduled render jobs.",
	}, []string{levelLabel})

	jobsCanceled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_jobs_canceled_total",
		Help: "The number of canceled render jobs.",
	}, []string{reasonLabel})

	jobsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "render_jobs_discarded_total",
		Help: "The number of renders whose outcome arrived after their job was canceled.",
	})

	jobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "render_job_errors_total",
		Help: "The errors that occured while rendering a job.",
	}, []string{errTypeLabel})

	jobWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "render_job_wait_seconds",
		Help:    "The time a render job waits in the queue.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	jobLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "render_job_latency_seconds",
		Help:    "The time to render a job.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{levelLabel})

	jobsQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "render_jobs_queued",
		Help: "The number of waiting render jobs.",
	})
)

func instrumentJobScheduled(level int) {
	jobsScheduled.
		With(prometheus.Labels{levelLabel: strconv.Itoa(level)}).
		Inc()
}

func instrumentJobStarted(job *Job) {
	jobWaitLatency.Observe(job.startedAt.Sub(job.scheduledAt).Seconds())
}

func instrumentJobDone(job *Job) {
	jobLatency.
		With(prometheus.Labels{levelLabel: strconv.Itoa(job.Tile.Level)}).
		Observe(time.Since(job.startedAt).Seconds())
}

func instrumentJobFailed(err error) {
	jobErrors.
		With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
		Inc()
}

func instrumentJobCanceled(reason string) {
	jobsCanceled.
		With(prometheus.Labels{reasonLabel: reason}).
		Inc()
}

func instrumentJobDiscarded() {
	jobsDiscarded.Inc()
}

func instrumentQueueSize(n int) {
	jobsQueued.Set(float64(n))
}

package viewer

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	errTypeLabel = "error_type"
)

var (
	frames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewer_frames_total",
		Help: "The number of frames drawn by viewers.",
	})

	frameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewer_frame_latency_seconds",
		Help:    "The time to compute and draw a frame.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	frameLevels = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewer_frame_levels",
		Help:    "The number of tile levels walked through to cover the screen.",
		Buckets: prometheus.LinearBuckets(1, 1, 12),
	})

	tilesDrawn = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_tiles_drawn",
		Help: "The number of tiles drawn during the last frame.",
	})

	tileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewer_tile_errors_total",
		Help: "The errors that occured while loading a tile.",
	}, []string{errTypeLabel})
)

func instrumentFrame(f Frame, latency time.Duration) {
	frames.Inc()
	frameLatency.Observe(latency.Seconds())
	frameLevels.Observe(float64(f.Levels))
	tilesDrawn.Set(float64(f.Stage.Len()))
}

func instrumentTileError(err error) {
	tileErrors.
		With(prometheus.Labels{errTypeLabel: errors.Type(err)}).
		Inc()
}

package compute

import (
	"context"
	"image"
	"strconv"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	rendererLabel = "renderer"
	errTypeLabel  = "error_type"
	levelLabel    = "level"
)

var (
	computeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_requests_total",
		Help: "The number of rasters requested to the compute service.",
	}, []string{rendererLabel})

	computeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compute_errors_total",
		Help: "The errors that occured while computing a raster.",
	}, []string{
		rendererLabel,
		errTypeLabel,
	})

	computeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compute_latency_seconds",
		Help:    "The time to compute a raster.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{
		rendererLabel,
		levelLabel,
	})
)

// RendererWithMetrics returns a renderer that records prometheus metrics
// about the rasters computed by r.
func RendererWithMetrics(r Renderer, name string) Renderer {
	return &rendererWithMetrics{
		Renderer: r,
		name:     name,
	}
}

type rendererWithMetrics struct {
	Renderer

	name string
}

func (r *rendererWithMetrics) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	computeRequests.
		With(prometheus.Labels{rendererLabel: r.name}).
		Inc()

	start := time.Now()
	img, err := r.Renderer.RenderTile(ctx, req)
	if err != nil {
		computeErrors.
			With(prometheus.Labels{
				rendererLabel: r.name,
				errTypeLabel:  errors.Type(err),
			}).
			Inc()
		return nil, err
	}

	computeLatency.
		With(prometheus.Labels{
			rendererLabel: r.name,
			levelLabel:    strconv.Itoa(requestLevel(req)),
		}).
		Observe(time.Since(start).Seconds())
	return img, nil
}

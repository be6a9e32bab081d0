// Package smoketest checks that the compute service renders tiles.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/deepzoom/compute"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/segmentio/encoding/json"
)

const (
	defaultTimeout  = 10 * time.Second
	maxRequestSize  = 4096
	defaultProbeMax = 64
)

type Options struct {
	// The compute service endpoint, reported in results.
	Endpoint string

	// The renderer the probe tile is rendered with.
	Renderer compute.Renderer

	SendResult func(context.Context, Result) error
}

// Request is a smoke test request. Every field is optional.
type Request struct {
	Tile          models.TileID   `json:"tile"`
	Variant       fractal.Variant `json:"variant,omitempty"`
	MaxIterations int             `json:"max_iterations,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
}

// Result is the outcome of a smoke test.
type Result struct {
	Endpoint        string        `json:"endpoint"`
	Tile            models.TileID `json:"tile"`
	Config          string        `json:"config"`
	Success         bool          `json:"success"`
	LatencyMilliSec float64       `json:"latency_millisec"`
	Error           string        `json:"error,omitempty"`
}

func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				httpcmn.BadRequest(w, httpcmn.ErrBadRequest)
				return
			}
		}

		config, err := probeConfig(req)
		if err != nil {
			httpcmn.BadRequest(w, err)
			return
		}

		go func() {
			res := Run(ctx, opts, req.Tile, config, req.Timeout)
			if !res.Success {
				logs.WithTag("endpoint", opts.Endpoint).
					WithTag("tile", req.Tile.Hash()).
					Warn(errors.New("smoke test failed").WithTag("reason", res.Error))
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("endpoint", opts.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

func probeConfig(req Request) (fractal.Config, error) {
	variant := req.Variant
	if variant == "" {
		variant = fractal.Mandelbrot
	}

	config := fractal.DefaultConfig(variant)
	config.MaxIterations = defaultProbeMax
	if req.MaxIterations != 0 {
		config.MaxIterations = req.MaxIterations
	}
	return config, config.Validate()
}

// Run renders the tile with the given config and measures how long it took.
func Run(ctx context.Context, opts Options, tile models.TileID, config fractal.Config, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := Result{
		Endpoint: opts.Endpoint,
		Tile:     tile,
		Config:   config.String(),
	}

	start := time.Now()
	raster, err := opts.Renderer.RenderTile(ctx, compute.TileRequest(tile, config))
	res.LatencyMilliSec = float64(time.Since(start)) / float64(time.Millisecond)

	switch {
	case err != nil:
		res.Error = err.Error()

	case raster == nil:
		res.Error = "no raster rendered"

	default:
		res.Success = true
	}
	return res
}

package compute

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// RendererWithLogs returns a renderer that logs the rasters computed by r.
// Requests canceled by their context are not reported as failures.
func RendererWithLogs(r Renderer, name string) Renderer {
	return &rendererWithLogs{
		Renderer: r,
		name:     name,
	}
}

type rendererWithLogs struct {
	Renderer

	name string
}

func (r *rendererWithLogs) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	start := time.Now()
	img, err := r.Renderer.RenderTile(ctx, req)

	entry := logs.WithTag("renderer", r.name).
		WithTag("level", requestLevel(req)).
		WithTag("top_left", req.TopLeft).
		WithTag("variant", req.Config.Variant).
		WithTag("duration", time.Since(start))

	switch {
	case err == nil:
		entry.Debug("raster computed")

	case ctx.Err() != nil:
		entry.Debug("raster computation canceled")

	default:
		entry.Warn(errors.New("computing raster failed").Wrap(err))
	}
	return img, err
}

// requestLevel returns the quad-tree level matching the resolution of a
// request.
func requestLevel(req Request) int {
	width := req.BottomRight.Re - req.TopLeft.Re
	if width <= 0 || req.WidthPx <= 0 {
		return 0
	}
	return int(math.Round(math.Log2(width * models.TileSizePx / float64(req.WidthPx))))
}

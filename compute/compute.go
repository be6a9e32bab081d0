// Package compute defines the tile compute service a viewer fetches tile
// rasters from, along with its transports.
package compute

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/image/draw"
)

const (
	ErrTypeBadRequest = "bad-request"
	ErrTypeBadRaster  = "bad-raster"

	maxRequestPx = 4096

	// The largest PNG a maxRequestPx square raster encodes to: stored
	// deflate blocks of filtered RGBA rows, plus room for headers.
	maxRasterSize = (4*maxRequestPx+1)*maxRequestPx + 1<<20
)

// Request describes a raster to compute: a plane rectangle, its size in
// pixels and the fractal config.
type Request struct {
	TopLeft     models.Complex `json:"top_left"`
	BottomRight models.Complex `json:"bottom_right"`
	WidthPx     int            `json:"width_px"`
	HeightPx    int            `json:"height_px"`
	Config      fractal.Config `json:"config"`
}

// TileRequest returns the request computing the raster of a tile.
func TileRequest(id models.TileID, c fractal.Config) Request {
	b := id.Bounds()
	return Request{
		TopLeft:     models.Complex{Re: b.Left, Im: b.Top},
		BottomRight: models.Complex{Re: b.Right, Im: b.Bottom},
		WidthPx:     models.TileSizePx,
		HeightPx:    models.TileSizePx,
		Config:      c,
	}
}

func (r Request) Validate() error {
	if r.WidthPx <= 0 || r.HeightPx <= 0 || r.WidthPx > maxRequestPx || r.HeightPx > maxRequestPx {
		return errors.New("invalid raster size").
			WithType(ErrTypeBadRequest).
			WithTag("width_px", r.WidthPx).
			WithTag("height_px", r.HeightPx)
	}

	if r.BottomRight.Re <= r.TopLeft.Re || r.TopLeft.Im <= r.BottomRight.Im {
		return errors.New("invalid plane bounds").
			WithType(ErrTypeBadRequest).
			WithTag("top_left", r.TopLeft).
			WithTag("bottom_right", r.BottomRight)
	}

	if err := r.Config.Validate(); err != nil {
		return errors.New("invalid fractal config").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return nil
}

// Renderer computes rasters.
type Renderer interface {
	// Computes the raster of the request. The first row of the returned
	// raster is the top edge of the requested rectangle.
	RenderTile(ctx context.Context, req Request) (*image.RGBA, error)
}

// RendererFunc is a function that implements Renderer.
type RendererFunc func(ctx context.Context, req Request) (*image.RGBA, error)

func (f RendererFunc) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	return f(ctx, req)
}

func encodePNG(img *image.RGBA) ([]byte, error) {
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		return nil, errors.New("encoding raster failed").Wrap(err)
	}
	return b.Bytes(), nil
}

func decodePNG(data []byte, req Request) (*image.RGBA, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New("decoding raster failed").
			WithType(ErrTypeBadRaster).
			Wrap(err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != req.WidthPx || bounds.Dy() != req.HeightPx {
		return nil, errors.New("unexpected raster size").
			WithType(ErrTypeBadRaster).
			WithTag("width_px", bounds.Dx()).
			WithTag("height_px", bounds.Dy())
	}

	if rgba, ok := img.(*image.RGBA); ok && bounds.Min == (image.Point{}) {
		return rgba, nil
	}

	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba, nil
}

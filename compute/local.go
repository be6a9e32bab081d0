package compute

import (
	"context"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
)

// Local is an in-process renderer.
type Local struct {
	// An artificial latency added to every render, to simulate a remote
	// service.
	Delay time.Duration

	// The number of goroutines computing a raster. Defaults to the number
	// of CPUs.
	Workers int
}

func (l Local) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	palette, err := fractal.NewPalette(req.Config.Coloring)
	if err != nil {
		return nil, err
	}
	it := fractal.NewIterator(req.Config)

	if l.Delay > 0 {
		timer := time.NewTimer(l.Delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, req.WidthPx, req.HeightPx))
	stepRe := (req.BottomRight.Re - req.TopLeft.Re) / float64(req.WidthPx)
	stepIm := (req.TopLeft.Im - req.BottomRight.Im) / float64(req.HeightPx)

	workers := l.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > req.HeightPx {
		workers = req.HeightPx
	}

	rows := make(chan int, req.HeightPx)
	for y := 0; y < req.HeightPx; y++ {
		rows <- y
	}
	close(rows)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for y := range rows {
				if ctx.Err() != nil {
					return
				}

				im := req.TopLeft.Im - (float64(y)+0.5)*stepIm
				for x := 0; x < req.WidthPx; x++ {
					re := req.TopLeft.Re + (float64(x)+0.5)*stepRe
					e := it.Eval(models.Complex{Re: re, Im: im})
					img.SetRGBA(x, y, palette.Color(e))
				}
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return img, nil
}

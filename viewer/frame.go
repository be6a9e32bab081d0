package viewer

import (
	"math"

	"github.com/aukilabs/deepzoom/camera"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/scheduler"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// The number of levels above the fetched ones searched for fallback
	// tiles.
	FallbackLevels = 5

	// The screen size, as a power of two, covered by a single level of
	// tiles.
	tileLevelsOffset = 8
)

// Frame computes what a viewer draws during one frame.
type Frame struct {
	Timestamp   models.Timestamp
	Config      fractal.Config
	Fingerprint string
	Camera      *camera.Camera
	Cache       *models.TileCache
	Scheduler   *scheduler.Scheduler
	Stage       *Stage

	// Requests another frame when a raster arrives.
	Clock interface{ Start() }

	// Called with the tiles whose render failed unexpectedly.
	OnError func(*models.Tile, error)

	// The number of levels DrawTiles walked through.
	Levels int

	// The number of tiles DrawTiles put on the stage.
	Drawn int
}

// LevelsOnScreen returns the number of levels for which tiles are fetched.
// Screens larger than a tile need finer levels to stay sharp.
func (f *Frame) LevelsOnScreen() int {
	size := f.Camera.Size()
	longest := max(size.Width, size.Height)
	if longest <= 1 {
		return 1
	}

	levels := int(math.Ceil(math.Log2(float64(longest)))) - tileLevelsOffset
	return max(levels, 1)
}

// TilesOnScreenAt returns the tiles at level that cover the screen, each
// once.
func (f *Frame) TilesOnScreenAt(level int) []*models.Tile {
	b := f.Camera.ScreenBounds()
	topLeft := models.TileIDWithPoint(level, models.Complex{Re: b.Left, Im: b.Top})
	bottomRight := models.TileIDWithPoint(level, models.Complex{Re: b.Right, Im: b.Bottom})

	tiles := make([]*models.Tile, 0, (bottomRight.X-topLeft.X+1)*(topLeft.Y-bottomRight.Y+1))
	for x := topLeft.X; x <= bottomRight.X; x++ {
		for y := topLeft.Y; y >= bottomRight.Y; y-- {
			tiles = append(tiles, f.Cache.Get(x, y, level))
		}
	}
	return tiles
}

// DrawTiles puts the tiles covering the screen on the stage and requests
// the missing ones. A screen area whose tile has no raster yet is covered
// by the closest ancestor that has one.
func (f *Frame) DrawTiles() {
	minLevel := int(math.Floor(f.Camera.Current().Level))
	maxFetchLevel := minLevel + f.LevelsOnScreen()
	maxFallbackLevel := maxFetchLevel + FallbackLevels

	gaps := f.TilesOnScreenAt(minLevel)
	f.Levels = 0
	f.Drawn = 0

	for level := minLevel; level <= maxFallbackLevel && len(gaps) != 0; level++ {
		f.Levels++
		fetch := level < maxFetchLevel

		parents := make([]*models.Tile, 0, len(gaps))
		seen := make(map[*models.Tile]struct{}, len(gaps))

		for _, tile := range gaps {
			if fetch {
				f.LoadTile(tile)
			}

			if tile.CanBeDrawn() {
				f.drawTile(tile)
				continue
			}

			parent := f.Cache.Parent(tile)
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			parents = append(parents, parent)
		}

		gaps = parents
	}
}

func (f *Frame) drawTile(t *models.Tile) {
	t.LastUsedAt = f.Timestamp
	if !f.Stage.Has(t) {
		f.Drawn++
	}
	f.Stage.Add(t)
}

// LoadTile marks the tile as used during the frame and schedules a render
// when its raster is missing or was rendered with another config.
func (f *Frame) LoadTile(t *models.Tile) {
	t.LastUsedAt = f.Timestamp

	switch t.Status {
	case models.TileLoading, models.TileUpdating:
		return

	case models.TileReady:
		if t.RenderedForConfig == f.Fingerprint {
			return
		}
		t.Status = models.TileUpdating

	default:
		t.Status = models.TileLoading
	}

	cache := f.Cache
	clock := f.Clock
	onError := f.OnError

	job := f.Scheduler.Schedule(t, f.Config)
	job.OnSettle(func(res scheduler.Result, err error) {
		switch {
		case err == nil:
			t.Status = models.TileReady
			t.Raster = res.Raster
			t.RenderedForConfig = res.RenderedForConfig
			if clock != nil {
				clock.Start()
			}

		case errors.IsType(err, scheduler.ErrTypeConfigOutdated):
			cache.Destroy(t)
			if clock != nil {
				clock.Start()
			}

		case errors.IsType(err, scheduler.ErrTypeOutOfScreen):
			t.Release()

		default:
			t.Release()
			if onError != nil {
				onError(t, err)
			}
		}
	})
}

// RemoveUnusedTiles removes from the stage the tiles not drawn during the
// frame.
func (f *Frame) RemoveUnusedTiles() int {
	return f.Stage.RemoveUnused(f.Timestamp)
}

// SortTiles orders the stage so finer tiles are drawn over coarser ones.
func (f *Frame) SortTiles() {
	f.Stage.Sort()
}

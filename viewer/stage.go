package viewer

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/aukilabs/deepzoom/camera"
	"github.com/aukilabs/deepzoom/models"
	"golang.org/x/image/draw"
)

var backgroundColor = color.RGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}

// Sprite is a tile placed on the stage.
type Sprite struct {
	Tile  *models.Tile
	Level int
}

// Stage holds the tiles drawn during a frame, in draw order.
type Stage struct {
	sprites []Sprite
	members map[*models.Tile]struct{}
}

func NewStage() *Stage {
	return &Stage{
		members: make(map[*models.Tile]struct{}),
	}
}

// Add puts the tile on the stage, unless it is already there.
func (s *Stage) Add(t *models.Tile) {
	if _, ok := s.members[t]; ok {
		return
	}
	s.members[t] = struct{}{}
	s.sprites = append(s.sprites, Sprite{Tile: t, Level: t.Level})
}

func (s *Stage) Has(t *models.Tile) bool {
	_, ok := s.members[t]
	return ok
}

// RemoveUnused removes the tiles that were not used during the frame ts.
func (s *Stage) RemoveUnused(ts models.Timestamp) int {
	kept := s.sprites[:0]
	for _, sprite := range s.sprites {
		if sprite.Tile.LastUsedAt == ts {
			kept = append(kept, sprite)
			continue
		}
		delete(s.members, sprite.Tile)
	}

	removed := len(s.sprites) - len(kept)
	for i := len(kept); i < len(s.sprites); i++ {
		s.sprites[i] = Sprite{}
	}
	s.sprites = kept
	return removed
}

// Sort orders sprites so that coarse tiles are drawn first and fine tiles
// on top of them.
func (s *Stage) Sort() {
	sort.SliceStable(s.sprites, func(i, j int) bool {
		return s.sprites[i].Level > s.sprites[j].Level
	})
}

// Sprites returns the sprites in draw order.
func (s *Stage) Sprites() []Sprite {
	sprites := make([]Sprite, len(s.sprites))
	copy(sprites, s.sprites)
	return sprites
}

func (s *Stage) Len() int {
	return len(s.sprites)
}

// Render composites the sprites on dst, as seen by the camera.
func (s *Stage) Render(dst *image.RGBA, cam *camera.Camera) {
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	for _, sprite := range s.sprites {
		raster := sprite.Tile.Raster
		if raster == nil {
			continue
		}

		b := sprite.Tile.Bounds()
		topLeft := cam.PlaneToViewport(models.Complex{Re: b.Left, Im: b.Top})
		bottomRight := cam.PlaneToViewport(models.Complex{Re: b.Right, Im: b.Bottom})

		rect := image.Rect(
			int(math.Floor(topLeft.X)),
			int(math.Floor(topLeft.Y)),
			int(math.Ceil(bottomRight.X)),
			int(math.Ceil(bottomRight.Y)),
		)
		if rect.Empty() || !rect.Overlaps(dst.Bounds()) {
			continue
		}

		draw.ApproxBiLinear.Scale(dst, rect, raster, raster.Bounds(), draw.Src, nil)
	}
}

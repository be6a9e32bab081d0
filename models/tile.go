package models

import (
	"fmt"
	"image"
	"math"
)

// TileStatus is the lifecycle status of a tile.
type TileStatus int

const (
	// The tile has no raster and no pending render job.
	TileEmpty TileStatus = iota

	// The tile has no raster and a render job is pending.
	TileLoading

	// The tile has a raster.
	TileReady

	// The tile has a raster rendered for an outdated config and a render job
	// is pending.
	TileUpdating
)

func (s TileStatus) String() string {
	switch s {
	case TileEmpty:
		return "empty"
	case TileLoading:
		return "loading"
	case TileReady:
		return "ready"
	case TileUpdating:
		return "updating"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TileID identifies a cell of the quad-tree. A tile at level n is a square of
// side 2^n plane units whose bottom left corner is (x*2^n, y*2^n).
type TileID struct {
	X     int `json:"x"`
	Y     int `json:"y"`
	Level int `json:"level"`
}

// Hash returns the registry key of the tile.
func (id TileID) Hash() string {
	return fmt.Sprintf("l=%d x=%d y=%d", id.Level, id.X, id.Y)
}

// Size returns the side of the tile in plane units.
func (id TileID) Size() float64 {
	return math.Ldexp(1, id.Level)
}

func (id TileID) Bounds() Bounds {
	size := id.Size()
	left := float64(id.X) * size
	bottom := float64(id.Y) * size

	return Bounds{
		Left:   left,
		Right:  left + size,
		Top:    bottom + size,
		Bottom: bottom,
	}
}

func (id TileID) Center() Complex {
	b := id.Bounds()
	return Complex{
		Re: (b.Left + b.Right) / 2,
		Im: (b.Top + b.Bottom) / 2,
	}
}

// ParentID returns the id of the tile one level up that contains id.
func (id TileID) ParentID() TileID {
	return TileID{
		X:     id.X >> 1,
		Y:     id.Y >> 1,
		Level: id.Level + 1,
	}
}

// TileIDWithPoint returns the id of the tile at the given level that
// contains p.
func TileIDWithPoint(level int, p Complex) TileID {
	size := math.Ldexp(1, level)
	return TileID{
		X:     int(math.Floor(p.Re / size)),
		Y:     int(math.Floor(p.Im / size)),
		Level: level,
	}
}

// Tile is a quad-tree cell and the raster computed for it.
type Tile struct {
	TileID

	Status TileStatus

	// The frame during which the tile was last requested for display.
	LastUsedAt Timestamp

	// The fingerprint of the config the raster was rendered with.
	RenderedForConfig string

	// Set only when the status is ready or updating.
	Raster *image.RGBA
}

// CanBeDrawn reports whether the tile holds a raster.
func (t *Tile) CanBeDrawn() bool {
	return t.Status == TileReady || t.Status == TileUpdating
}

// Release drops the tile raster and resets it to empty.
func (t *Tile) Release() {
	t.Raster = nil
	t.RenderedForConfig = ""
	t.Status = TileEmpty
}

func (t *Tile) String() string {
	return t.Hash() + " " + t.Status.String()
}

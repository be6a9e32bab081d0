package models

import "math"

// The width and height in pixels of a tile raster.
const TileSizePx = 256

// Complex is a point of the complex plane.
type Complex struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

func (c Complex) Add(v Complex) Complex {
	return Complex{Re: c.Re + v.Re, Im: c.Im + v.Im}
}

func (c Complex) Sub(v Complex) Complex {
	return Complex{Re: c.Re - v.Re, Im: c.Im - v.Im}
}

func (c Complex) Scale(f float64) Complex {
	return Complex{Re: c.Re * f, Im: c.Im * f}
}

// Manhattan returns the taxicab distance between c and v.
func (c Complex) Manhattan(v Complex) float64 {
	return math.Abs(c.Re-v.Re) + math.Abs(c.Im-v.Im)
}

// Point is a position on the draw surface, in pixels. Y grows downward.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is the size of a draw surface, in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bounds is an axis aligned rectangle of the complex plane.
type Bounds struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// Position is a camera position: the plane point at the center of the draw
// surface and the zoom level. Level n means one pixel covers 2^n/256 plane
// units.
//
// Position is a value type. Every operation returns a new value.
type Position struct {
	Center Complex `json:"center"`
	Level  float64 `json:"level"`
}

func (p Position) Add(v Position) Position {
	return Position{
		Center: p.Center.Add(v.Center),
		Level:  p.Level + v.Level,
	}
}

func (p Position) Sub(v Position) Position {
	return Position{
		Center: p.Center.Sub(v.Center),
		Level:  p.Level - v.Level,
	}
}

func (p Position) Scale(f float64) Position {
	return Position{
		Center: p.Center.Scale(f),
		Level:  p.Level * f,
	}
}

func (p Position) Equal(v Position) bool {
	return p == v
}

// Timestamp identifies a frame. Timestamps are strictly increasing.
type Timestamp uint64

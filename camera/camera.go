// Package camera implements the animated viewport of a viewer.
package camera

import (
	"math"

	"github.com/aukilabs/deepzoom/models"
)

const (
	// The share of a transition covered by one frame.
	ProgressEveryFrame = 0.01

	// The level change for one pixel of wheel delta.
	wheelLevelRatio = 1.0 / 200
)

// Clock is the frame clock a camera is driven by.
type Clock interface {
	// Requests another frame.
	Start()

	// The number of frames elapsed since the previous frame.
	ElapsedFrames() float64
}

// Camera holds the current position of the viewport and eases it toward a
// goal position, one frame at a time.
type Camera struct {
	clock Clock
	size  models.Size

	current   models.Position
	goingFrom models.Position
	goingTo   models.Position
	progress  float64
}

func New(c Clock, size models.Size, at models.Position) *Camera {
	return &Camera{
		clock:     c,
		size:      size,
		current:   at,
		goingFrom: at,
		goingTo:   at,
		progress:  1,
	}
}

// EaseOut is the exponential ease-out curve transitions follow.
func EaseOut(x float64) float64 {
	if x >= 1 {
		return 1
	}
	return 1 - math.Pow(2, -10*x)
}

func (c *Camera) Current() models.Position {
	return c.current
}

func (c *Camera) Goal() models.Position {
	return c.goingTo
}

func (c *Camera) Progress() float64 {
	return c.progress
}

func (c *Camera) InTransition() bool {
	return c.progress < 1
}

func (c *Camera) Size() models.Size {
	return c.size
}

// Resize changes the draw surface size. It reports whether the size changed.
func (c *Camera) Resize(size models.Size) bool {
	if c.size == size {
		return false
	}
	c.size = size
	c.clock.Start()
	return true
}

// JumpTo moves the camera to p without transition.
func (c *Camera) JumpTo(p models.Position) {
	c.current = p
	c.goingFrom = p
	c.goingTo = p
	c.progress = 1
	c.clock.Start()
}

// ChangeGoalBy moves the goal by v and restarts the transition from the
// current position.
func (c *Camera) ChangeGoalBy(v models.Position) {
	c.goingFrom = c.current
	c.goingTo = c.goingTo.Add(v)
	if c.current.Equal(c.goingTo) {
		c.progress = 1
	} else {
		c.progress = 0
	}
	c.clock.Start()
}

// DragBy moves the goal so the plane follows a pointer drag of dx, dy pixels.
func (c *Camera) DragBy(dx, dy float64) {
	ratio := c.PixelToPlane()
	c.ChangeGoalBy(models.Position{
		Center: models.Complex{Re: -dx * ratio, Im: dy * ratio},
	})
}

// Zoom changes the goal level according to a wheel delta. A positive delta
// zooms out.
func (c *Camera) Zoom(deltaY float64) {
	c.ChangeGoalBy(models.Position{Level: deltaY * wheelLevelRatio})
}

// ApplyScheduledChange advances the transition by the frames elapsed on the
// clock. It reports whether the camera moved.
func (c *Camera) ApplyScheduledChange() bool {
	if c.progress >= 1 {
		return false
	}

	before := c.progress
	after := before + ProgressEveryFrame*c.clock.ElapsedFrames()
	if after >= 1 {
		c.JumpTo(c.goingTo)
		return true
	}

	travels := EaseOut(after) - EaseOut(before)
	c.current = c.current.Add(c.goingTo.Sub(c.goingFrom).Scale(travels))
	c.progress = after
	c.clock.Start()
	return true
}

// PixelToPlane returns the number of plane units covered by one pixel.
func (c *Camera) PixelToPlane() float64 {
	return math.Pow(2, c.current.Level) / models.TileSizePx
}

// ScreenBounds returns the plane area covered by the draw surface.
func (c *Camera) ScreenBounds() models.Bounds {
	ratio := c.PixelToPlane()
	halfWidth := float64(c.size.Width) * ratio / 2
	halfHeight := float64(c.size.Height) * ratio / 2
	center := c.current.Center

	return models.Bounds{
		Left:   center.Re - halfWidth,
		Right:  center.Re + halfWidth,
		Top:    center.Im + halfHeight,
		Bottom: center.Im - halfHeight,
	}
}

// PlaneToViewport returns the draw surface pixel showing the plane point p.
func (c *Camera) PlaneToViewport(p models.Complex) models.Point {
	ratio := c.PixelToPlane()
	d := p.Sub(c.current.Center)

	return models.Point{
		X: float64(c.size.Width)/2 + d.Re/ratio,
		Y: float64(c.size.Height)/2 - d.Im/ratio,
	}
}

// ViewportToPlane returns the plane point shown at the draw surface pixel p.
func (c *Camera) ViewportToPlane(p models.Point) models.Complex {
	ratio := c.PixelToPlane()

	return models.Complex{
		Re: c.current.Center.Re + (p.X-float64(c.size.Width)/2)*ratio,
		Im: c.current.Center.Im - (p.Y-float64(c.size.Height)/2)*ratio,
	}
}

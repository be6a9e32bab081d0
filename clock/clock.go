// Package clock provides the frame clock driving a viewer frame loop.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/aukilabs/deepzoom/models"
)

const (
	// The nominal frame rate elapsed frames are expressed in.
	FramesPerSecond = 60

	maxFrameDelta = time.Second
)

// Clock stamps frames and measures the time elapsed between them.
//
// Anything that needs another frame calls Start. Tick clears that request,
// so a loop keeps ticking only while something keeps asking for frames.
type Clock struct {
	// Returns the current time. Defaults to time.Now.
	Now func() time.Time

	timestamp     models.Timestamp
	drawingAt     time.Time
	lastDrawnAt   time.Time
	elapsedFrames float64
	idle          bool
	keepRunning   atomic.Bool
}

func New() *Clock {
	return &Clock{
		Now:  time.Now,
		idle: true,
	}
}

// Tick starts a new frame.
func (c *Clock) Tick() {
	now := c.now()
	c.timestamp++
	c.drawingAt = now

	if c.idle || c.lastDrawnAt.IsZero() {
		c.elapsedFrames = 1
		c.idle = false
	} else {
		delta := now.Sub(c.lastDrawnAt)
		if delta < 0 {
			delta = 0
		}
		if delta > maxFrameDelta {
			delta = maxFrameDelta
		}
		c.elapsedFrames = delta.Seconds() * FramesPerSecond
	}

	c.lastDrawnAt = now
	c.keepRunning.Store(false)
}

// Start requests at least one more frame. It is safe to call from any
// goroutine.
func (c *Clock) Start() {
	c.keepRunning.Store(true)
}

// Running reports whether another frame was requested since the last tick.
func (c *Clock) Running() bool {
	return c.keepRunning.Load()
}

// CanStop reports whether the frame loop may go idle.
func (c *Clock) CanStop() bool {
	return !c.Running()
}

// Stop marks the clock idle. The first tick after Stop counts as a single
// frame, whatever time passed in between.
func (c *Clock) Stop() {
	c.idle = true
}

// Timestamp returns the current frame timestamp.
func (c *Clock) Timestamp() models.Timestamp {
	return c.timestamp
}

// DrawingAt returns the time the current frame started.
func (c *Clock) DrawingAt() time.Time {
	return c.drawingAt
}

// ElapsedFrames returns the time between the last two ticks, expressed in
// frames at FramesPerSecond.
func (c *Clock) ElapsedFrames() float64 {
	return c.elapsedFrames
}

func (c *Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

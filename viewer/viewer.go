// Package viewer implements the frame loop of a deep zoom fractal viewer.
package viewer

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/aukilabs/deepzoom/camera"
	"github.com/aukilabs/deepzoom/clock"
	"github.com/aukilabs/deepzoom/compute"
	"github.com/aukilabs/deepzoom/featureflag"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/scheduler"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
)

const (
	ErrTypeViewerClosed = "viewerClosed"

	defaultFrameDuration = time.Second / clock.FramesPerSecond
	commandChanSize      = 64
)

// Options configures a viewer.
type Options struct {
	// The service computing tile rasters.
	Renderer compute.Renderer

	// The initial draw surface size.
	Size models.Size

	// The initial fractal config. The camera starts at the init position of
	// its variant.
	Config fractal.Config

	// The minimum time between two frames. Defaults to 1/60s.
	FrameDuration time.Duration

	// The maximum number of renders in flight.
	MaxRunningJobs int

	// The number of tiles above which least recently used tiles are
	// evicted. Zero disables trimming.
	MaxCachedTiles int

	// The maximum duration of a render. Zero means no limit.
	RenderTimeout time.Duration

	FeatureFlags featureflag.FeatureFlag

	// Called on the frame loop with tiles whose render failed. Errors are
	// logged when nil.
	OnError func(tile *models.Tile, err error)
}

// Status is a snapshot of the viewer state.
type Status struct {
	ID           string          `json:"id"`
	Timestamp    uint64          `json:"timestamp"`
	Size         models.Size     `json:"size"`
	Position     models.Position `json:"position"`
	Goal         models.Position `json:"goal"`
	InTransition bool            `json:"in_transition"`
	Running      bool            `json:"running"`
	Config       string          `json:"config"`
	Fingerprint  string          `json:"fingerprint"`
	Tiles        map[string]int  `json:"tiles"`
	Sprites      int             `json:"sprites"`
	PendingJobs  int             `json:"pending_jobs"`
	RunningJobs  int             `json:"running_jobs"`
	Bounds       models.Bounds   `json:"bounds"`
}

// Viewer owns the state of a fractal viewer and draws it, one frame at a
// time, on an in-memory surface.
//
// Every state change goes through the frame loop started by Run. Methods
// are safe for concurrent use.
type Viewer struct {
	ID string

	options   Options
	clock     *clock.Clock
	camera    *camera.Camera
	cache     *models.TileCache
	scheduler *scheduler.Scheduler
	stage     *Stage
	surface   *image.RGBA

	config              fractal.Config
	fingerprint         string
	renderedFingerprint string

	commands chan func()
	done     chan struct{}
	runOnce  sync.Once
}

// New creates a viewer. The config must be valid.
func New(opts Options) (*Viewer, error) {
	if opts.Renderer == nil {
		return nil, errors.New("viewer renderer is nil")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = defaultFrameDuration
	}
	if opts.FeatureFlags == nil {
		opts.FeatureFlags = featureflag.New(nil)
	}

	v := &Viewer{
		ID:          uuid.NewString(),
		options:     opts,
		clock:       clock.New(),
		cache:       models.NewTileCache(),
		stage:       NewStage(),
		surface:     newSurface(opts.Size),
		config:      opts.Config,
		fingerprint: opts.Config.Fingerprint(),
		commands:    make(chan func(), commandChanSize),
		done:        make(chan struct{}),
	}
	v.renderedFingerprint = v.fingerprint
	v.camera = camera.New(v.clock, opts.Size, opts.Config.Variant.InitPosition())

	v.scheduler = &scheduler.Scheduler{
		Renderer:      opts.Renderer,
		MaxRunning:    opts.MaxRunningJobs,
		RenderTimeout: opts.RenderTimeout,
		Config:        func() fractal.Config {
			return v.config
		},
	}
	opts.FeatureFlags.IfNotSet(featureflag.FlagDisableNearestFirst, func() {
		v.scheduler.Focus = func() models.Complex {
			return v.camera.Current().Center
		}
	})

	v.clock.Start()
	return v, nil
}

func newSurface(size models.Size) *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, max(size.Width, 0), max(size.Height, 0)))
}

// Run runs the frame loop until ctx is done. Frames are drawn while
// something needs them, the loop is idle otherwise.
func (v *Viewer) Run(ctx context.Context) {
	started := false
	v.runOnce.Do(func() { started = true })
	if !started {
		return
	}

	defer v.close()

	logs.WithTag("viewer_id", v.ID).
		WithTag("config", v.config.String()).
		WithTag("width", v.camera.Size().Width).
		WithTag("height", v.camera.Size().Height).
		Info("viewer started")

	ticker := time.NewTicker(v.options.FrameDuration)
	defer ticker.Stop()

	for {
		var tick <-chan time.Time
		if v.clock.Running() {
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			return

		case cmd := <-v.commands:
			cmd()

		case c := <-v.scheduler.Completions():
			v.scheduler.Complete(c)

		case <-tick:
			v.frame()
		}
	}
}

func (v *Viewer) close() {
	v.scheduler.Close()
	v.cache.Close()
	close(v.done)

	logs.WithTag("viewer_id", v.ID).Info("viewer stopped")
}

func (v *Viewer) frame() {
	start := time.Now()

	v.clock.Tick()
	v.camera.ApplyScheduledChange()
	ts := v.clock.Timestamp()

	f := Frame{
		Timestamp:   ts,
		Config:      v.config,
		Fingerprint: v.fingerprint,
		Camera:      v.camera,
		Cache:       v.cache,
		Scheduler:   v.scheduler,
		Stage:       v.stage,
		Clock:       v.clock,
		OnError:     v.onError,
	}
	f.DrawTiles()
	f.RemoveUnusedTiles()
	f.SortTiles()

	if v.renderedFingerprint != v.fingerprint {
		evicted := v.cache.DeleteStaleCache(ts, v.fingerprint)
		canceled := v.scheduler.CancelRunningJob()
		v.renderedFingerprint = v.fingerprint

		logs.WithTag("viewer_id", v.ID).
			WithTag("config", v.config.String()).
			WithTag("evicted_tiles", evicted).
			WithTag("canceled_jobs", canceled).
			Debug("config applied")
	}

	v.scheduler.CancelStaleJobs(ts)
	v.scheduler.RunNextJob()

	v.options.FeatureFlags.IfNotSet(featureflag.FlagDisableCacheTrim, func() {
		v.cache.Trim(ts, v.options.MaxCachedTiles)
	})

	v.stage.Render(v.surface, v.camera)

	if v.clock.CanStop() {
		v.clock.Stop()
	}
	instrumentFrame(f, time.Since(start))
}

func (v *Viewer) onError(tile *models.Tile, err error) {
	instrumentTileError(err)

	if v.options.OnError != nil {
		v.options.OnError(tile, err)
		return
	}

	logs.WithTag("viewer_id", v.ID).
		WithTag("tile", tile.Hash()).
		Error(err)
}

// post queues f to run on the frame loop.
func (v *Viewer) post(f func()) {
	select {
	case v.commands <- f:
	case <-v.done:
	}
}

// do runs f on the frame loop and waits for it to return.
func (v *Viewer) do(ctx context.Context, f func()) error {
	returned := make(chan struct{})
	cmd := func() {
		defer close(returned)
		f()
	}

	select {
	case v.commands <- cmd:
	case <-v.done:
		return errors.New("viewer is closed").WithType(ErrTypeViewerClosed)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-returned:
		return nil
	case <-v.done:
		return errors.New("viewer is closed").WithType(ErrTypeViewerClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resize changes the draw surface size.
func (v *Viewer) Resize(size models.Size) {
	v.post(func() {
		if v.camera.Resize(size) {
			v.surface = newSurface(size)
		}
	})
}

// OnConfigChanged replaces the fractal config. Tiles rendered with the
// previous config stay on screen until their new raster arrives. When the
// variant changes, the camera jumps to the init position of the new one.
func (v *Viewer) OnConfigChanged(c fractal.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}

	v.post(func() {
		if c.Variant != v.config.Variant {
			v.camera.JumpTo(c.Variant.InitPosition())
		}
		v.config = c
		v.fingerprint = c.Fingerprint()
		v.clock.Start()
	})
	return nil
}

// ChangeGoalBy moves the camera goal by p.
func (v *Viewer) ChangeGoalBy(p models.Position) {
	v.post(func() {
		v.camera.ChangeGoalBy(p)
	})
}

// JumpTo moves the camera to p without transition.
func (v *Viewer) JumpTo(p models.Position) {
	v.post(func() {
		v.camera.JumpTo(p)
	})
}

// DragBy moves the camera so the plane follows a pointer drag of dx, dy
// pixels.
func (v *Viewer) DragBy(dx, dy float64) {
	v.post(func() {
		v.camera.DragBy(dx, dy)
	})
}

// Zoom changes the camera level according to a wheel delta.
func (v *Viewer) Zoom(deltaY float64) {
	v.post(func() {
		v.camera.Zoom(deltaY)
	})
}

// ViewportToPlane returns the plane point shown at the draw surface pixel
// p.
func (v *Viewer) ViewportToPlane(ctx context.Context, p models.Point) (models.Complex, error) {
	var c models.Complex
	err := v.do(ctx, func() {
		c = v.camera.ViewportToPlane(p)
	})
	return c, err
}

// PlaneToViewport returns the draw surface pixel showing the plane point c.
func (v *Viewer) PlaneToViewport(ctx context.Context, c models.Complex) (models.Point, error) {
	var p models.Point
	err := v.do(ctx, func() {
		p = v.camera.PlaneToViewport(c)
	})
	return p, err
}

// Snapshot returns a copy of the last drawn frame.
func (v *Viewer) Snapshot(ctx context.Context) (*image.RGBA, error) {
	var img *image.RGBA
	err := v.do(ctx, func() {
		img = image.NewRGBA(v.surface.Rect)
		copy(img.Pix, v.surface.Pix)
	})
	return img, err
}

// Status returns the state of the viewer.
func (v *Viewer) Status(ctx context.Context) (Status, error) {
	var s Status
	err := v.do(ctx, func() {
		s = v.status()
	})
	return s, err
}

func (v *Viewer) status() Status {
	tiles := make(map[string]int)
	for status, n := range v.cache.Count() {
		tiles[status.String()] = n
	}

	return Status{
		ID:           v.ID,
		Timestamp:    uint64(v.clock.Timestamp()),
		Size:         v.camera.Size(),
		Position:     v.camera.Current(),
		Goal:         v.camera.Goal(),
		InTransition: v.camera.InTransition(),
		Running:      v.clock.Running(),
		Config:       v.config.String(),
		Fingerprint:  v.fingerprint,
		Tiles:        tiles,
		Sprites:      v.stage.Len(),
		PendingJobs:  v.scheduler.Pending(),
		RunningJobs:  v.scheduler.Running(),
		Bounds:       v.camera.ScreenBounds(),
	}
}

// Done returns a channel closed when the frame loop has stopped.
func (v *Viewer) Done() <-chan struct{} {
	return v.done
}

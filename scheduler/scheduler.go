// Package scheduler orders and runs tile render jobs.
package scheduler

import (
	"context"
	"image"
	"math"
	"sync"
	"time"

	"github.com/aukilabs/deepzoom/compute"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	// The job tile is no longer displayed.
	ErrTypeOutOfScreen = "outOfScreen"

	// The config the job renders with was replaced.
	ErrTypeConfigOutdated = "configOutdated"

	completionChanSize = 64
)

// Completion is the outcome of a render, waiting to be applied to its job.
type Completion struct {
	job    *Job
	raster *image.RGBA
	err    error
}

// Scheduler is a priority queue of render jobs. Jobs of the highest level
// run first, so coarse tiles covering the screen arrive before fine ones.
//
// Scheduler methods must be called from a single goroutine, the frame loop.
// Renders run on their own goroutines and report to the loop through
// Completions.
type Scheduler struct {
	// The service computing rasters.
	Renderer compute.Renderer

	// The maximum number of renders in flight. Defaults to 1.
	MaxRunning int

	// Returns the plane point jobs of a same level are ordered by distance
	// to. When nil, the most recently scheduled job runs first.
	Focus func() models.Complex

	// The maximum duration of a render. Zero means no limit.
	RenderTimeout time.Duration

	// Returns the config a job renders with when it starts. When nil, jobs
	// render with the config they were scheduled with.
	Config func() fractal.Config

	once        sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	closed      chan struct{}
	wg          sync.WaitGroup
	ids         models.SequentialIDGenerator
	queue       map[int][]*Job
	running     map[uint64]*Job
	completions chan Completion
}

func (s *Scheduler) init() {
	s.once.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.closed = make(chan struct{})
		s.queue = make(map[int][]*Job)
		s.running = make(map[uint64]*Job)
		s.completions = make(chan Completion, completionChanSize)
	})
}

// Schedule queues a job rendering the tile with the given config. The
// config is replaced by the one returned by Config when the job starts.
func (s *Scheduler) Schedule(tile *models.Tile, c fractal.Config) *Job {
	s.init()

	job := newJob(s.ids.New(), tile, c)
	s.queue[tile.Level] = append(s.queue[tile.Level], job)
	instrumentJobScheduled(tile.Level)
	return job
}

// RunNextJob starts the most important waiting jobs while fewer than
// MaxRunning renders are in flight.
func (s *Scheduler) RunNextJob() {
	s.init()

	for len(s.running) < s.maxRunning() {
		job := s.popMostImportantJob()
		if job == nil {
			break
		}
		s.start(job)
	}
	instrumentQueueSize(s.Pending())
}

func (s *Scheduler) maxRunning() int {
	if s.MaxRunning <= 0 {
		return 1
	}
	return s.MaxRunning
}

func (s *Scheduler) popMostImportantJob() *Job {
	highestLevel := math.MinInt
	for level, jobs := range s.queue {
		if len(jobs) != 0 && level > highestLevel {
			highestLevel = level
		}
	}

	jobs, ok := s.queue[highestLevel]
	if !ok {
		return nil
	}

	index := len(jobs) - 1
	if s.Focus != nil {
		focus := s.Focus()
		closest := math.Inf(1)

		for i, job := range jobs {
			distance := job.Tile.Center().Manhattan(focus)
			if distance < closest {
				closest = distance
				index = i
			}
		}
	}

	job := jobs[index]
	jobs = append(jobs[:index], jobs[index+1:]...)
	if len(jobs) == 0 {
		delete(s.queue, highestLevel)
	} else {
		s.queue[highestLevel] = jobs
	}
	return job
}

func (s *Scheduler) start(job *Job) {
	var ctx context.Context
	var cancel context.CancelFunc
	if s.RenderTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.RenderTimeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}

	if s.Config != nil {
		job.Config = s.Config()
		job.fingerprint = job.Config.Fingerprint()
	}

	job.cancelRender = cancel
	job.startedAt = time.Now()
	job.setStatus(JobRendering)
	s.running[job.ID] = job
	instrumentJobStarted(job)

	req := compute.TileRequest(job.Tile.TileID, job.Config)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		raster, err := s.Renderer.RenderTile(ctx, req)

		select {
		case s.completions <- Completion{job: job, raster: raster, err: err}:
		case <-s.closed:
		}
	}()
}

// Completions returns the channel render outcomes are delivered on. Each
// received completion must be passed to Complete.
func (s *Scheduler) Completions() <-chan Completion {
	s.init()
	return s.completions
}

// Complete applies the outcome of a render to its job, then starts the next
// jobs. The outcome of a canceled job is discarded.
func (s *Scheduler) Complete(c Completion) {
	job := c.job
	delete(s.running, job.ID)
	job.cancelRender()

	switch {
	case job.Status() == JobCanceled:
		instrumentJobDiscarded()

	case c.err != nil:
		err := errors.New("rendering tile failed").
			WithTag("tile", job.Tile.Hash()).
			WithTag("job_id", job.ID).
			Wrap(c.err)
		instrumentJobFailed(c.err)
		job.reject(JobDone, err)

	default:
		instrumentJobDone(job)
		job.resolve(Result{
			Raster:            c.raster,
			RenderedForConfig: job.fingerprint,
		})
	}

	s.RunNextJob()
}

// CancelStaleJobs cancels the waiting jobs whose tile was not used during
// the frame ts. Running jobs are left untouched.
func (s *Scheduler) CancelStaleJobs(ts models.Timestamp) int {
	s.init()

	var n int
	for level, jobs := range s.queue {
		kept := jobs[:0]
		for _, job := range jobs {
			if job.Tile.LastUsedAt == ts {
				kept = append(kept, job)
				continue
			}
			s.cancelJob(job, ErrTypeOutOfScreen)
			n++
		}

		if len(kept) == 0 {
			delete(s.queue, level)
		} else {
			s.queue[level] = kept
		}
	}
	instrumentQueueSize(s.Pending())
	return n
}

// CancelRunningJob cancels every render in flight. Their outcome is
// discarded when it arrives.
func (s *Scheduler) CancelRunningJob() int {
	s.init()

	var n int
	for id, job := range s.running {
		s.cancelJob(job, ErrTypeConfigOutdated)
		job.cancelRender()
		delete(s.running, id)
		n++
	}
	return n
}

func (s *Scheduler) cancelJob(job *Job, errType string) {
	err := errors.New("render job canceled").
		WithType(errType).
		WithTag("tile", job.Tile.Hash()).
		WithTag("job_id", job.ID)

	if job.reject(JobCanceled, err) {
		instrumentJobCanceled(errType)
	}
}

// Pending returns the number of waiting jobs.
func (s *Scheduler) Pending() int {
	s.init()

	var n int
	for _, jobs := range s.queue {
		n += len(jobs)
	}
	return n
}

// Running returns the number of renders in flight.
func (s *Scheduler) Running() int {
	s.init()
	return len(s.running)
}

// Close cancels every job and waits for the renders in flight to return.
func (s *Scheduler) Close() {
	s.init()

	for level, jobs := range s.queue {
		for _, job := range jobs {
			s.cancelJob(job, ErrTypeOutOfScreen)
		}
		delete(s.queue, level)
	}
	s.CancelRunningJob()

	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.cancel()
	s.wg.Wait()
	instrumentQueueSize(0)
}

package scheduler

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
)

// JobStatus is the status of a render job.
type JobStatus int

const (
	JobWaiting JobStatus = iota
	JobRendering
	JobDone
	JobCanceled
)

func (s JobStatus) String() string {
	switch s {
	case JobWaiting:
		return "waiting"
	case JobRendering:
		return "rendering"
	case JobDone:
		return "done"
	case JobCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the outcome of a successful render job.
type Result struct {
	Raster *image.RGBA

	// The fingerprint of the config the raster was rendered with.
	RenderedForConfig string
}

// Job is a request to render the raster of a tile. A job settles exactly
// once, with either a result or an error.
type Job struct {
	ID     uint64
	Tile   *models.Tile
	Config fractal.Config

	fingerprint  string
	scheduledAt  time.Time
	startedAt    time.Time
	cancelRender context.CancelFunc

	mutex    sync.Mutex
	status   JobStatus
	done     chan struct{}
	result   Result
	err      error
	onSettle []func(Result, error)
}

func newJob(id uint64, tile *models.Tile, c fractal.Config) *Job {
	return &Job{
		ID:          id,
		Tile:        tile,
		Config:      c,
		fingerprint: c.Fingerprint(),
		scheduledAt: time.Now(),
		done:        make(chan struct{}),
	}
}

// Fingerprint returns the fingerprint of the config the job renders with.
func (j *Job) Fingerprint() string {
	return j.fingerprint
}

func (j *Job) Status() JobStatus {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.status
}

// Done returns a channel closed when the job settles.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome of a settled job.
func (j *Job) Result() (Result, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	return j.result, j.err
}

// Wait blocks until the job settles or ctx is done.
func (j *Job) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-j.done:
		return j.Result()
	}
}

// OnSettle registers a function called with the outcome of the job, on the
// goroutine that settles it. When the job is already settled, f is called
// right away.
func (j *Job) OnSettle(f func(Result, error)) {
	j.mutex.Lock()

	select {
	case <-j.done:
		res, err := j.result, j.err
		j.mutex.Unlock()
		f(res, err)

	default:
		j.onSettle = append(j.onSettle, f)
		j.mutex.Unlock()
	}
}

func (j *Job) setStatus(s JobStatus) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.status = s
}

func (j *Job) resolve(res Result) bool {
	return j.settle(JobDone, res, nil)
}

func (j *Job) reject(status JobStatus, err error) bool {
	return j.settle(status, Result{}, err)
}

func (j *Job) settle(status JobStatus, res Result, err error) bool {
	j.mutex.Lock()

	select {
	case <-j.done:
		j.mutex.Unlock()
		return false
	default:
	}

	j.status = status
	j.result = res
	j.err = err
	callbacks := j.onSettle
	j.onSettle = nil
	close(j.done)
	j.mutex.Unlock()

	for _, f := range callbacks {
		f(res, err)
	}
	return true
}

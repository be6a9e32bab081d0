package scheduler

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/deepzoom/compute"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

type blockingRenderer struct {
	requests chan compute.Request
	results  chan error
}

func newBlockingRenderer() *blockingRenderer {
	return &blockingRenderer{
		requests: make(chan compute.Request, 16),
		results:  make(chan error, 16),
	}
}

func (r *blockingRenderer) RenderTile(ctx context.Context, req compute.Request) (*image.RGBA, error) {
	r.requests <- req

	select {
	case <-ctx.Done():
		return nil, ctx.Err()

	case err := <-r.results:
		if err != nil {
			return nil, err
		}
		return image.NewRGBA(image.Rect(0, 0, req.WidthPx, req.HeightPx)), nil
	}
}

type recordingRenderer struct {
	mutex    sync.Mutex
	rendered []compute.Request
}

func (r *recordingRenderer) RenderTile(ctx context.Context, req compute.Request) (*image.RGBA, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.rendered = append(r.rendered, req)
	return image.NewRGBA(image.Rect(0, 0, 1, 1)), nil
}

func newTestScheduler(t *testing.T, r compute.Renderer) *Scheduler {
	s := &Scheduler{Renderer: r}
	t.Cleanup(s.Close)
	return s
}

func receiveCompletion(t *testing.T, s *Scheduler) Completion {
	select {
	case c := <-s.Completions():
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no completion received")
		return Completion{}
	}
}

func receiveRequest(t *testing.T, r *blockingRenderer) compute.Request {
	select {
	case req := <-r.requests:
		return req
	case <-time.After(5 * time.Second):
		t.Fatal("no render request received")
		return compute.Request{}
	}
}

// drain completes jobs until the queue is empty.
func drain(t *testing.T, s *Scheduler) {
	s.RunNextJob()
	for s.Running() != 0 {
		s.Complete(receiveCompletion(t, s))
	}
}

var testConfig = fractal.DefaultConfig(fractal.Mandelbrot)

func TestSchedulerRunsHighestLevelFirst(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	low := s.Schedule(cache.Get(0, 0, 3), testConfig)
	high := s.Schedule(cache.Get(0, 0, 5), testConfig)
	require.Equal(t, 2, s.Pending())

	s.RunNextJob()
	require.Equal(t, 1, s.Running())
	require.Equal(t, JobRendering, high.Status())
	require.Equal(t, JobWaiting, low.Status())

	req := receiveRequest(t, r)
	require.Equal(t, compute.TileRequest(high.Tile.TileID, testConfig), req)

	// A single job runs at a time by default.
	s.RunNextJob()
	require.Equal(t, 1, s.Running())

	r.results <- nil
	s.Complete(receiveCompletion(t, s))

	res, err := high.Result()
	require.NoError(t, err)
	require.NotNil(t, res.Raster)
	require.Equal(t, testConfig.Fingerprint(), res.RenderedForConfig)
	require.Equal(t, JobDone, high.Status())

	// Completing a job starts the next one.
	req = receiveRequest(t, r)
	require.Equal(t, compute.TileRequest(low.Tile.TileID, testConfig), req)
	require.Equal(t, JobRendering, low.Status())
}

func TestSchedulerRunsNearestJobFirst(t *testing.T) {
	cache := models.NewTileCache()
	tiles := []*models.Tile{
		cache.Get(5, 0, 0),
		cache.Get(0, 0, 0),
		cache.Get(-3, 0, 0),
		cache.Get(1, 1, 0),
	}

	t.Run("with focus", func(t *testing.T) {
		r := &recordingRenderer{}
		s := newTestScheduler(t, r)
		s.Focus = func() models.Complex {
			return models.Complex{Re: 0.5, Im: 0.5}
		}

		for _, tile := range tiles {
			s.Schedule(tile, testConfig)
		}
		drain(t, s)

		require.Len(t, r.rendered, 4)
		require.Equal(t, compute.TileRequest(tiles[1].TileID, testConfig), r.rendered[0])
		require.Equal(t, compute.TileRequest(tiles[3].TileID, testConfig), r.rendered[1])
		require.Equal(t, compute.TileRequest(tiles[2].TileID, testConfig), r.rendered[2])
		require.Equal(t, compute.TileRequest(tiles[0].TileID, testConfig), r.rendered[3])
	})

	t.Run("without focus", func(t *testing.T) {
		r := &recordingRenderer{}
		s := newTestScheduler(t, r)

		for _, tile := range tiles {
			s.Schedule(tile, testConfig)
		}
		drain(t, s)

		require.Len(t, r.rendered, 4)
		for i := range tiles {
			expected := compute.TileRequest(tiles[len(tiles)-1-i].TileID, testConfig)
			require.Equal(t, expected, r.rendered[i])
		}
	})
}

func TestSchedulerCancelStaleJobs(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	stale := cache.Get(0, 0, 0)
	stale.LastUsedAt = 1
	fresh := cache.Get(1, 0, 0)
	fresh.LastUsedAt = 2

	var settled int
	staleJob := s.Schedule(stale, testConfig)
	staleJob.OnSettle(func(_ Result, err error) {
		settled++
		require.True(t, errors.IsType(err, ErrTypeOutOfScreen))
	})
	freshJob := s.Schedule(fresh, testConfig)

	require.Equal(t, 1, s.CancelStaleJobs(2))
	require.Equal(t, 1, s.Pending())
	require.Equal(t, JobCanceled, staleJob.Status())
	require.Equal(t, JobWaiting, freshJob.Status())

	select {
	case <-staleJob.Done():
	default:
		t.Fatal("canceled job is not settled")
	}

	require.Zero(t, s.CancelStaleJobs(2))
	require.False(t, staleJob.reject(JobCanceled, errors.New("again")))
	require.Equal(t, 1, settled)

	_, err := staleJob.Result()
	require.True(t, errors.IsType(err, ErrTypeOutOfScreen))
}

func TestSchedulerCancelStaleJobsKeepsRunningJobs(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	job := s.Schedule(cache.Get(0, 0, 0), testConfig)
	s.RunNextJob()
	receiveRequest(t, r)

	require.Zero(t, s.CancelStaleJobs(42))
	require.Equal(t, JobRendering, job.Status())
}

func TestSchedulerCancelRunningJob(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	var settled int
	job := s.Schedule(cache.Get(0, 0, 0), testConfig)
	job.OnSettle(func(res Result, err error) {
		settled++
		require.Nil(t, res.Raster)
		require.True(t, errors.IsType(err, ErrTypeConfigOutdated))
	})
	next := s.Schedule(cache.Get(1, 0, 0), testConfig)

	s.RunNextJob()
	receiveRequest(t, r)

	require.Equal(t, 1, s.CancelRunningJob())
	require.Zero(t, s.Running())
	require.Equal(t, JobCanceled, job.Status())
	require.Equal(t, 1, settled)

	// The render returns anyway: its outcome is discarded.
	c := receiveCompletion(t, s)
	require.Same(t, job, c.job)
	s.Complete(c)

	require.Equal(t, 1, settled)
	require.Equal(t, JobCanceled, job.Status())
	_, err := job.Result()
	require.True(t, errors.IsType(err, ErrTypeConfigOutdated))

	// The queue moves on.
	receiveRequest(t, r)
	require.Equal(t, JobRendering, next.Status())
}

func TestSchedulerDiscardsResultArrivingAfterCancel(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	job := s.Schedule(cache.Get(0, 0, 0), testConfig)
	s.RunNextJob()
	receiveRequest(t, r)

	// The render succeeds before the cancellation is observed.
	r.results <- nil
	c := receiveCompletion(t, s)
	require.Nil(t, c.err)

	s.CancelRunningJob()
	s.Complete(c)

	res, err := job.Result()
	require.Nil(t, res.Raster)
	require.True(t, errors.IsType(err, ErrTypeConfigOutdated))
}

func TestSchedulerRenderFailure(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	job := s.Schedule(cache.Get(0, 0, 0), testConfig)
	s.RunNextJob()
	receiveRequest(t, r)

	r.results <- errors.New("compute service is down")
	s.Complete(receiveCompletion(t, s))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := job.Wait(ctx)
	require.Error(t, err)
	require.Nil(t, res.Raster)
	require.False(t, errors.IsType(err, ErrTypeOutOfScreen))
	require.False(t, errors.IsType(err, ErrTypeConfigOutdated))
	require.Equal(t, JobDone, job.Status())
}

func TestSchedulerMaxRunning(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	s.MaxRunning = 2
	cache := models.NewTileCache()

	for i := 0; i < 3; i++ {
		s.Schedule(cache.Get(i, 0, 0), testConfig)
	}

	s.RunNextJob()
	require.Equal(t, 2, s.Running())
	require.Equal(t, 1, s.Pending())

	receiveRequest(t, r)
	receiveRequest(t, r)
}

func TestSchedulerRenderTimeout(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	s.RenderTimeout = 10 * time.Millisecond
	cache := models.NewTileCache()

	job := s.Schedule(cache.Get(0, 0, 0), testConfig)
	s.RunNextJob()
	s.Complete(receiveCompletion(t, s))

	_, err := job.Result()
	require.Error(t, err)
	require.Equal(t, JobDone, job.Status())
}

func TestSchedulerClose(t *testing.T) {
	r := newBlockingRenderer()
	s := &Scheduler{Renderer: r}
	cache := models.NewTileCache()

	running := s.Schedule(cache.Get(0, 0, 1), testConfig)
	waiting := s.Schedule(cache.Get(0, 0, 0), testConfig)
	s.RunNextJob()
	receiveRequest(t, r)

	s.Close()

	_, err := running.Result()
	require.True(t, errors.IsType(err, ErrTypeConfigOutdated))
	_, err = waiting.Result()
	require.True(t, errors.IsType(err, ErrTypeOutOfScreen))
	require.Zero(t, s.Pending())
	require.Zero(t, s.Running())
}

func TestJobOnSettleAfterSettle(t *testing.T) {
	cache := models.NewTileCache()
	job := newJob(1, cache.Get(0, 0, 0), testConfig)

	require.True(t, job.resolve(Result{RenderedForConfig: "abc"}))

	var got Result
	job.OnSettle(func(res Result, err error) {
		require.NoError(t, err)
		got = res
	})
	require.Equal(t, "abc", got.RenderedForConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newJob(2, cache.Get(1, 0, 0), testConfig).Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSchedulerRendersWithConfigAtStart(t *testing.T) {
	r := newBlockingRenderer()
	s := newTestScheduler(t, r)
	cache := models.NewTileCache()

	current := testConfig
	s.Config = func() fractal.Config { return current }

	first := s.Schedule(cache.Get(0, 0, 5), testConfig)
	queued := s.Schedule(cache.Get(0, 0, 3), testConfig)

	s.RunNextJob()
	require.Equal(t, testConfig.Fingerprint(), receiveRequest(t, r).Config.Fingerprint())

	changed := testConfig
	changed.MaxIterations = testConfig.MaxIterations * 2
	current = changed

	r.results <- nil
	s.Complete(receiveCompletion(t, s))

	res, err := first.Result()
	require.NoError(t, err)
	require.Equal(t, testConfig.Fingerprint(), res.RenderedForConfig)

	// The job queued before the change starts with the new config.
	req := receiveRequest(t, r)
	require.Equal(t, compute.TileRequest(queued.Tile.TileID, changed), req)
	require.Equal(t, changed.Fingerprint(), queued.Fingerprint())

	r.results <- nil
	s.Complete(receiveCompletion(t, s))

	res, err = queued.Result()
	require.NoError(t, err)
	require.Equal(t, changed.Fingerprint(), res.RenderedForConfig)
}

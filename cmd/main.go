package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/aukilabs/deepzoom/compute"
	"github.com/aukilabs/deepzoom/featureflag"
	"github.com/aukilabs/deepzoom/fractal"
	dzhttp "github.com/aukilabs/deepzoom/http"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/smoketest"
	"github.com/aukilabs/deepzoom/viewer"
	dzwebsocket "github.com/aukilabs/deepzoom/websocket"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

var (
	// The deepzoom version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "deepzoom_info",
		Help:        "Deepzoom viewer information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"DEEPZOOM_ADDR"                 help:"Listening address for viewer clients."`
	AdminAddr          string        `cli:""        env:"DEEPZOOM_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"DEEPZOOM_PUBLIC_ENDPOINT"      help:"The public endpoint where this viewer is reachable."`
	LogLevel           string        `cli:""        env:"DEEPZOOM_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"DEEPZOOM_LOG_INDENT"           help:"Indent logs."`
	Width              int           `cli:""        env:"DEEPZOOM_WIDTH"                help:"The initial draw surface width, in pixels."`
	Height             int           `cli:""        env:"DEEPZOOM_HEIGHT"               help:"The initial draw surface height, in pixels."`
	FrameDuration      time.Duration `cli:",hidden" env:"DEEPZOOM_FRAME_DURATION"       help:"The minimum duration of a frame."`
	StatusInterval     time.Duration `cli:",hidden" env:"DEEPZOOM_STATUS_INTERVAL"      help:"The interval between each status message sent to control clients."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"DEEPZOOM_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"DEEPZOOM_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Compute            computeConfig `cli:""        env:"-"                             help:"Compute service configuration."`
	Fractal            fractalConfig `cli:""        env:"-"                             help:"Initial fractal configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                             help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"DEEPZOOM_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                             help:"Show version."`
	Help               bool          `cli:""        env:"-"                             help:"Show help."`
}

type computeConfig struct {
	Endpoint       string        `cli:""        env:"DEEPZOOM_COMPUTE_ENDPOINT"         help:"The compute service endpoint (http(s):// or ws(s)://). Tiles are computed in process when empty."`
	Timeout        time.Duration `cli:",hidden" env:"DEEPZOOM_COMPUTE_TIMEOUT"          help:"The maximum duration of a tile render."`
	Delay          time.Duration `cli:",hidden" env:"DEEPZOOM_COMPUTE_DELAY"            help:"An artificial latency added to in process renders."`
	MaxRunningJobs int           `cli:",hidden" env:"DEEPZOOM_COMPUTE_MAX_RUNNING_JOBS" help:"The maximum number of tile renders in flight."`
	MaxCachedTiles int           `cli:",hidden" env:"DEEPZOOM_COMPUTE_MAX_CACHED_TILES" help:"The number of cached tiles above which least recently used ones are evicted."`
}

type fractalConfig struct {
	Variant       string `cli:"" env:"DEEPZOOM_FRACTAL_VARIANT"        help:"The fractal variant (Mandelbrot|JuliaSet|BurningShip|Newton)."`
	MaxIterations int    `cli:"" env:"DEEPZOOM_FRACTAL_MAX_ITERATIONS" help:"The maximum number of iterations per pixel."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"DEEPZOOM_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"DEEPZOOM_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"DEEPZOOM_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"DEEPZOOM_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4100",
		AdminAddr:          ":18191",
		PublicEndpoint:     "http://localhost:4100",
		LogLevel:           logs.InfoLevel.String(),
		Width:              800,
		Height:             600,
		FrameDuration:      time.Second / 60,
		StatusInterval:     time.Millisecond * 250,
		ClientIdleTimeout:  time.Minute * 5,
		LogSummaryInterval: time.Minute,
		Compute: computeConfig{
			Timeout:        time.Second * 30,
			MaxRunningJobs: 1,
			MaxCachedTiles: 2048,
		},
		Fractal: fractalConfig{
			Variant:       string(fractal.Mandelbrot),
			MaxIterations: 128,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a deep zoom fractal viewer.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "deepzoom",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	fractalConf, err := newFractalConfig(conf.Fractal)
	if err != nil {
		logs.Fatal(err)
	}

	renderer, closeRenderer, err := newRenderer(conf.Compute, transport)
	if err != nil {
		logs.Fatal(err)
	}
	defer closeRenderer()

	featureFlags := featureflag.New(conf.FeatureFlags)

	v, err := viewer.New(viewer.Options{
		Renderer:       renderer,
		Size:           models.Size{Width: conf.Width, Height: conf.Height},
		Config:         fractalConf,
		FrameDuration:  conf.FrameDuration,
		MaxRunningJobs: conf.Compute.MaxRunningJobs,
		MaxCachedTiles: conf.Compute.MaxCachedTiles,
		RenderTimeout:  conf.Compute.Timeout,
		FeatureFlags:   featureFlags,
	})
	if err != nil {
		logs.Fatal(errors.New("creating viewer failed").Wrap(err))
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		v.Run(ctx)
	}()

	readinessCheck := func() bool {
		select {
		case <-v.Done():
			return false
		default:
			return true
		}
	}

	var service http.ServeMux
	service.Handle("/health", dzhttp.HandleWithCORS(http.HandlerFunc(dzhttp.HandleHealthCheck)))
	service.Handle("/ready", dzhttp.HandleWithCORS(http.HandlerFunc(dzhttp.HandleReadyCheck(readinessCheck))))
	service.Handle("/version", dzhttp.HandleWithCORS(http.HandlerFunc(dzhttp.HandleVersion(version))))
	service.Handle("/frame.png", dzhttp.HandleWithCORS(dzhttp.HandleFrame(v)))
	service.Handle("/status", dzhttp.HandleWithCORS(dzhttp.HandleStatus(v)))

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Endpoint: computeEndpointName(conf.Compute),
		Renderer: renderer,
		SendResult: func(ctx context.Context, res smoketest.Result) error {
			logs.WithTag("endpoint", res.Endpoint).
				WithTag("tile", res.Tile.Hash()).
				WithTag("config", res.Config).
				WithTag("success", res.Success).
				WithTag("latency_ms", res.LatencyMilliSec).
				Info("smoke test completed")
			return nil
		},
	}))

	service.Handle("/control", dzhttp.HandleWithCORS(websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var ch dzwebsocket.Handler = &dzwebsocket.ControlHandler{
				Viewer:               v,
				ClientStatusInterval: conf.StatusInterval,
				ClientIdleTimeout:    conf.ClientIdleTimeout,
				FeatureFlags:         featureFlags,
			}
			h := dzwebsocket.HandlerWithLogs(ch, conf.LogSummaryInterval)
			h = dzwebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			dzwebsocket.Handle(ctx, conn, h)
		},
	}))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", dzhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", dzhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("viewer_id", v.ID).
		WithTag("compute_endpoint", computeEndpointName(conf.Compute)).
		WithTag("config", fractalConf.String()).
		WithTag("feature_flags", featureFlags.List()).
		Info("starting deepzoom viewer")

	dzhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			dzhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)

	wg.Wait()
}

func newFractalConfig(conf fractalConfig) (fractal.Config, error) {
	variant, err := fractal.ParseVariant(conf.Variant)
	if err != nil {
		return fractal.Config{}, err
	}

	c := fractal.DefaultConfig(variant)
	c.MaxIterations = conf.MaxIterations
	if err := c.Validate(); err != nil {
		return fractal.Config{}, errors.New("invalid fractal config").Wrap(err)
	}
	return c, nil
}

// newRenderer returns the renderer matching the compute endpoint scheme and
// a function releasing it.
func newRenderer(conf computeConfig, transport http.RoundTripper) (compute.Renderer, func(), error) {
	noop := func() {}

	if conf.Endpoint == "" {
		r := compute.RendererWithMetrics(compute.Local{Delay: conf.Delay}, "local")
		return compute.RendererWithLogs(r, "local"), noop, nil
	}

	u, err := url.ParseRequestURI(conf.Endpoint)
	if err != nil {
		return nil, noop, errors.New("invalid compute endpoint").Wrap(err)
	}

	var r compute.Renderer
	release := noop

	switch u.Scheme {
	case "http", "https":
		r = compute.HTTPClient{
			Endpoint:  conf.Endpoint,
			Transport: transport,
			UserAgent: fmt.Sprintf("Deepzoom %s", version),
		}

	case "ws", "wss":
		client := &compute.WebsocketClient{
			Endpoint:   conf.Endpoint,
			HTTPClient: &http.Client{Transport: transport},
		}
		r = client
		release = func() {
			if err := client.Close(); err != nil {
				logs.Warn(errors.New("closing compute connection failed").Wrap(err))
			}
		}

	default:
		return nil, noop, errors.New("unsupported compute endpoint scheme").
			WithTag("scheme", u.Scheme)
	}

	r = compute.RendererWithMetrics(r, u.Scheme)
	return compute.RendererWithLogs(r, u.Scheme), release, nil
}

func computeEndpointName(conf computeConfig) string {
	if conf.Endpoint == "" {
		return "local"
	}
	return conf.Endpoint
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.Width <= 0 || conf.Height <= 0 {
		return errors.New("invalid draw surface size").
			WithTag("width", conf.Width).
			WithTag("height", conf.Height)
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive").
			WithTag("frame_duration", conf.FrameDuration)
	}

	if conf.Compute.MaxRunningJobs < 0 {
		return errors.New("max running jobs cannot be negative").
			WithTag("max_running_jobs", conf.Compute.MaxRunningJobs)
	}

	return nil
}

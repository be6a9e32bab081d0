package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/aukilabs/deepzoom/compute"
	dzhttp "github.com/aukilabs/deepzoom/http"
	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
)

var (
	// The deepzoom version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "deepzoom_compute_info",
		Help:        "Deepzoom compute service information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// Keeps the config keys readable when the binary is obfuscated.
var _ = reflect.TypeOf(config{})

type config struct {
	Addr      string        `cli:""        env:"DEEPZOOM_COMPUTE_ADDR"       help:"Listening address for render requests."`
	AdminAddr string        `cli:""        env:"DEEPZOOM_COMPUTE_ADMIN_ADDR" help:"Admin listening address."`
	LogLevel  string        `cli:""        env:"DEEPZOOM_COMPUTE_LOG_LEVEL"  help:"Log level (debug|info|warning|error)."`
	LogIndent bool          `cli:""        env:"DEEPZOOM_COMPUTE_LOG_INDENT" help:"Indent logs."`
	Workers   int           `cli:""        env:"DEEPZOOM_COMPUTE_WORKERS"    help:"The number of goroutines computing a tile."`
	Delay     time.Duration `cli:",hidden" env:"DEEPZOOM_COMPUTE_DELAY"      help:"An artificial latency added to each render."`
	Version   bool          `cli:""        env:"-"                           help:"Show version."`
	Help      bool          `cli:""        env:"-"                           help:"Show help."`
}

func main() {
	conf := config{
		Addr:      ":4200",
		AdminAddr: ":18192",
		LogLevel:  logs.InfoLevel.String(),
		Workers:   runtime.NumCPU(),
	}

	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts a fractal tile compute service.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if conf.Workers <= 0 {
		logs.Fatal(errors.New("workers must be positive").
			WithTag("workers", conf.Workers))
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	var renderer compute.Renderer = compute.Local{
		Delay:   conf.Delay,
		Workers: conf.Workers,
	}
	renderer = compute.RendererWithMetrics(renderer, "service")
	renderer = compute.RendererWithLogs(renderer, "service")

	var service http.ServeMux
	service.HandleFunc(compute.TilesPath, compute.HandleRenderTile(renderer))
	service.HandleFunc(compute.WebsocketPath, compute.HandleWebsocket(renderer))
	service.HandleFunc("/health", dzhttp.HandleHealthCheck)
	service.HandleFunc("/version", dzhttp.HandleVersion(version))

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", dzhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("addr", conf.Addr).
		WithTag("workers", conf.Workers).
		Info("starting deepzoom compute service")

	dzhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			dzhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// ShutdownTimeout bounds how long open connections are drained once the
// serving context is done.
var ShutdownTimeout = 10 * time.Second

// ListenAndServe runs the given servers until ctx is done, then shuts them
// down. It returns once every server stopped.
func ListenAndServe(ctx context.Context, servers ...*http.Server) {
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			serve(s)
		}(s)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			logs.Warn(errors.New("shutting down the server failed").
				WithTag("addr", s.Addr).
				Wrap(err))
		}
	}

	wg.Wait()
}

func serve(s *http.Server) {
	logs.WithTag("addr", s.Addr).Info("starting server")

	err := s.ListenAndServe()
	if err == nil || err == http.ErrServerClosed {
		logs.WithTag("addr", s.Addr).Info("stopping server")
		return
	}

	logs.Warn(errors.New("server stopped").
		WithTag("addr", s.Addr).
		Wrap(err))
}

// MetricsPathFormatter drops the path label of requests that did not reach a
// route, so unknown paths do not create new metric series.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed:
		return ""
	default:
		return path
	}
}

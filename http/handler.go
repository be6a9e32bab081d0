package http

import (
	"context"
	"image"
	"image/png"
	"net/http"

	"github.com/aukilabs/deepzoom/viewer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/segmentio/encoding/json"
)

// Viewer is the viewer whose frames and status are served.
type Viewer interface {
	Snapshot(ctx context.Context) (*image.RGBA, error)
	Status(ctx context.Context) (viewer.Status, error)
}

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithCORS allows browsers to call h from any origin.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// HandleFrame serves the last frame drawn by the viewer as a PNG image.
func HandleFrame(v Viewer) http.HandlerFunc {
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		img, err := v.Snapshot(r.Context())
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("taking viewer snapshot failed").Wrap(err))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		encoder.Encode(w, img)
	}
}

// HandleStatus serves the viewer status as JSON.
func HandleStatus(v Viewer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		status, err := v.Status(r.Context())
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("getting viewer status failed").Wrap(err))
			return
		}

		body, err := json.Marshal(status)
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("encoding viewer status failed").Wrap(err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

package http

import (
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/viewer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type fakeViewer struct {
	err error
}

func (v fakeViewer) Snapshot(ctx context.Context) (*image.RGBA, error) {
	if v.err != nil {
		return nil, v.err
	}
	return image.NewRGBA(image.Rect(0, 0, 32, 16)), nil
}

func (v fakeViewer) Status(ctx context.Context) (viewer.Status, error) {
	if v.err != nil {
		return viewer.Status{}, v.err
	}
	return viewer.Status{
		ID:        "test-viewer",
		Timestamp: 12,
		Size:      models.Size{Width: 32, Height: 16},
	}, nil
}

func TestHandleFrame(t *testing.T) {
	t.Run("frame is served as png", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleFrame(fakeViewer{})(w, httptest.NewRequest(http.MethodGet, "/frame.png", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "image/png", w.Header().Get("Content-Type"))

		img, err := png.Decode(w.Body)
		require.NoError(t, err)
		require.Equal(t, image.Rect(0, 0, 32, 16), img.Bounds())
	})

	t.Run("snapshot failure", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleFrame(fakeViewer{err: errors.New("viewer is closed")})(w, httptest.NewRequest(http.MethodGet, "/frame.png", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		w := httptest.NewRecorder()
		HandleFrame(fakeViewer{})(w, httptest.NewRequest(http.MethodPost, "/frame.png", nil))
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHandleStatus(t *testing.T) {
	w := httptest.NewRecorder()
	HandleStatus(fakeViewer{})(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var status viewer.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, "test-viewer", status.ID)
	require.Equal(t, uint64(12), status.Timestamp)
}

func TestHandleWithCORS(t *testing.T) {
	h := HandleWithCORS(http.HandlerFunc(HandleHealthCheck))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleReadyCheck(t *testing.T) {
	ready := false
	h := HandleReadyCheck(func() bool { return ready })

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	ready = true
	w = httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandleVersion(t *testing.T) {
	w := httptest.NewRecorder()
	HandleVersion("v1.2.3")(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "v1.2.3", w.Body.String())
}

func TestMetricsPathFormatter(t *testing.T) {
	require.Equal(t, "/frame.png", MetricsPathFormatter(http.StatusOK, "/frame.png"))
	require.Empty(t, MetricsPathFormatter(http.StatusNotFound, "/unknown"))
	require.Empty(t, MetricsPathFormatter(http.StatusMethodNotAllowed, "/status"))
}

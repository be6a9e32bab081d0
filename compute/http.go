package compute

import (
	"bytes"
	"context"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/aukilabs/hagall-common/http"
	"github.com/segmentio/encoding/json"
)

const (
	// The path tiles are computed at.
	TilesPath = "/tiles"

	ErrTypeServiceError = "compute-service-error"

	maxRequestBodySize = 1 << 16
)

// HTTPClient is a renderer that fetches rasters from a compute service over
// HTTP.
type HTTPClient struct {
	// The compute service base URL.
	Endpoint string

	// The transport used to send requests. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	UserAgent string

	// The maximum size of a response body. Defaults to the size of the
	// largest raster a request can ask for.
	MaxResponseBytes int64
}

func (c HTTPClient) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.New("encoding request failed").Wrap(err)
	}

	url := strings.TrimSuffix(c.Endpoint, "/") + TilesPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.New("creating request failed").
			WithTag("url", url).
			Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")
	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	client := http.Client{Transport: c.Transport}
	res, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.New("sending request failed").
			WithTag("url", url).
			Wrap(err)
	}
	defer res.Body.Close()

	limit := c.MaxResponseBytes
	if limit <= 0 {
		limit = maxRasterSize
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, errors.New("reading response failed").
			WithTag("url", url).
			Wrap(err)
	}
	if int64(len(data)) > limit {
		return nil, errors.New("compute service response is too large").
			WithType(ErrTypeServiceError).
			WithTag("url", url).
			WithTag("limit", limit)
	}

	if res.StatusCode != http.StatusOK {
		return nil, errors.New("compute service returned an error").
			WithType(ErrTypeServiceError).
			WithTag("url", url).
			WithTag("status_code", res.StatusCode).
			WithTag("body", string(data))
	}

	return decodePNG(data, req)
}

// HandleRenderTile returns an HTTP handler that computes rasters with the
// given renderer. Requests are JSON encoded and responses are PNG images.
func HandleRenderTile(r Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		b, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodySize))
		if err != nil {
			httpcmn.InternalServerError(w, errors.New("reading body failed").Wrap(err))
			return
		}

		var tileReq Request
		if err := json.Unmarshal(b, &tileReq); err != nil {
			httpcmn.BadRequest(w, httpcmn.ErrBadRequest)
			return
		}

		if err := tileReq.Validate(); err != nil {
			httpcmn.BadRequest(w, err)
			return
		}

		img, err := r.RenderTile(req.Context(), tileReq)
		if err != nil {
			httpcmn.InternalServerError(w, err)
			return
		}

		data, err := encodePNG(img)
		if err != nil {
			httpcmn.InternalServerError(w, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

package compute

import (
	"context"
	"image"
	"net/http"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"
)

const (
	// The path of the websocket compute endpoint.
	WebsocketPath = "/ws"
)

type wsError struct {
	Error string `json:"error"`
}

// WebsocketClient is a renderer that fetches rasters from a compute service
// over a persistent websocket connection. Requests are sent one at a time.
type WebsocketClient struct {
	// The compute service websocket URL.
	Endpoint string

	// The client used for the opening handshake. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	mutex sync.Mutex
	conn  *websocket.Conn
}

func (c *WebsocketClient) RenderTile(ctx context.Context, req Request) (*image.RGBA, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	img, err := c.roundTrip(ctx, conn, req)
	if err != nil && !errors.IsType(err, ErrTypeServiceError) && !errors.IsType(err, ErrTypeBadRaster) {
		// The connection state is unknown after a transport failure.
		conn.CloseNow()
		c.conn = nil
	}
	return img, err
}

func (c *WebsocketClient) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := websocket.Dial(ctx, c.Endpoint, &websocket.DialOptions{
		HTTPClient: c.HTTPClient,
	})
	if err != nil {
		return nil, errors.New("dialing compute service failed").
			WithTag("endpoint", c.Endpoint).
			Wrap(err)
	}
	conn.SetReadLimit(maxRasterSize)

	c.conn = conn
	return conn, nil
}

func (c *WebsocketClient) roundTrip(ctx context.Context, conn *websocket.Conn, req Request) (*image.RGBA, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.New("encoding request failed").Wrap(err)
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, errors.New("sending request failed").
			WithTag("endpoint", c.Endpoint).
			Wrap(err)
	}

	msgType, data, err := conn.Read(ctx)
	if err != nil {
		return nil, errors.New("receiving raster failed").
			WithTag("endpoint", c.Endpoint).
			Wrap(err)
	}

	if msgType == websocket.MessageText {
		var res wsError
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, errors.New("decoding error response failed").Wrap(err)
		}
		return nil, errors.New("compute service returned an error").
			WithType(ErrTypeServiceError).
			WithTag("endpoint", c.Endpoint).
			WithTag("body", res.Error)
	}

	return decodePNG(data, req)
}

// Close closes the connection to the compute service.
func (c *WebsocketClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

// HandleWebsocket returns an HTTP handler serving compute requests over
// websocket connections.
func HandleWebsocket(r Renderer) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logs.Warn(errors.New("accepting websocket failed").Wrap(err))
			return
		}
		defer conn.CloseNow()

		ctx := req.Context()
		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
					logs.WithTag("remote_addr", req.RemoteAddr).
						Debug("compute websocket closed: " + err.Error())
				}
				return
			}

			if msgType != websocket.MessageText {
				conn.Close(websocket.StatusUnsupportedData, "expected text message")
				return
			}

			if err := serveWebsocketRequest(ctx, conn, r, data); err != nil {
				logs.WithTag("remote_addr", req.RemoteAddr).
					Warn(errors.New("writing compute response failed").Wrap(err))
				return
			}
		}
	}
}

func serveWebsocketRequest(ctx context.Context, conn *websocket.Conn, r Renderer, data []byte) error {
	writeError := func(err error) error {
		msg, _ := json.Marshal(wsError{Error: err.Error()})
		return conn.Write(ctx, websocket.MessageText, msg)
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return writeError(errors.New("decoding request failed").
			WithType(ErrTypeBadRequest).
			Wrap(err))
	}

	if err := req.Validate(); err != nil {
		return writeError(err)
	}

	img, err := r.RenderTile(ctx, req)
	if err != nil {
		return writeError(err)
	}

	raster, err := encodePNG(img)
	if err != nil {
		return writeError(err)
	}
	return conn.Write(ctx, websocket.MessageBinary, raster)
}

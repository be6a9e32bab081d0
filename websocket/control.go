package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/deepzoom/featureflag"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/viewer"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	// The header a client can identify itself with.
	HeaderClientID = "X-Deepzoom-Client-Id"

	maxMsgSize     = 64 * 1024
	maxSurfaceSide = 8192
)

// Viewer is the viewer a control handler drives.
type Viewer interface {
	Resize(models.Size)
	OnConfigChanged(fractal.Config) error
	ChangeGoalBy(models.Position)
	JumpTo(models.Position)
	DragBy(dx, dy float64)
	Zoom(deltaY float64)
	ViewportToPlane(ctx context.Context, p models.Point) (models.Complex, error)
	Status(ctx context.Context) (viewer.Status, error)
}

// ControlHandler forwards the input of a connected client to a viewer and
// reports the viewer status back.
type ControlHandler struct {
	// The viewer driven by the client.
	Viewer Viewer

	// The interval between each status message sent to the connected
	// client.
	ClientStatusInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	FeatureFlags featureflag.FeatureFlag

	conn          *websocket.Conn
	clientID      string
	lastStatus    uint64
	statusWasSent bool
}

func (h *ControlHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn
	conn.MaxPayloadBytes = maxMsgSize

	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *ControlHandler) HandleDisconnect(_ error) {
}

func (h *ControlHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(Msg{
		Type:      MsgTypePong,
		RequestID: msg.RequestID,
	})
	return nil
}

func (h *ControlHandler) HandleResize(ctx context.Context, respond ResponseSender, msg Msg) error {
	size := msg.Size
	if size == nil {
		respondError(respond, msg, errMissingField(msg, "size"))
		return nil
	}
	if size.Width <= 0 || size.Height <= 0 || size.Width > maxSurfaceSide || size.Height > maxSurfaceSide {
		respondError(respond, msg, errors.New("invalid surface size").
			WithType(ErrTypeBadRequest).
			WithTag("width", size.Width).
			WithTag("height", size.Height).
			WithTag("max", maxSurfaceSide))
		return nil
	}

	h.Viewer.Resize(*size)
	return nil
}

func (h *ControlHandler) HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Config == nil {
		respondError(respond, msg, errMissingField(msg, "config"))
		return nil
	}

	if err := h.Viewer.OnConfigChanged(*msg.Config); err != nil {
		respondError(respond, msg, err)
	}
	return nil
}

func (h *ControlHandler) HandleDrag(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Point == nil {
		respondError(respond, msg, errMissingField(msg, "point"))
		return nil
	}

	h.Viewer.DragBy(msg.Point.X, msg.Point.Y)
	return nil
}

func (h *ControlHandler) HandleWheel(ctx context.Context, respond ResponseSender, msg Msg) error {
	h.Viewer.Zoom(msg.DeltaY)
	return nil
}

func (h *ControlHandler) HandleJump(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Position == nil {
		respondError(respond, msg, errMissingField(msg, "position"))
		return nil
	}

	h.Viewer.JumpTo(*msg.Position)
	return nil
}

func (h *ControlHandler) HandleMove(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Position == nil {
		respondError(respond, msg, errMissingField(msg, "position"))
		return nil
	}

	h.Viewer.ChangeGoalBy(*msg.Position)
	return nil
}

func (h *ControlHandler) HandleLocate(ctx context.Context, respond ResponseSender, msg Msg) error {
	if msg.Point == nil {
		respondError(respond, msg, errMissingField(msg, "point"))
		return nil
	}

	plane, err := h.Viewer.ViewportToPlane(ctx, *msg.Point)
	if err != nil {
		return err
	}

	respond.Send(Msg{
		Type:      MsgTypeLocation,
		RequestID: msg.RequestID,
		Point:     msg.Point,
		Plane:     &plane,
	})
	return nil
}

// SendStatus sends the viewer status when it changed since the last one
// sent.
func (h *ControlHandler) SendStatus(ctx context.Context, respond ResponseSender) error {
	var err error

	h.featureFlags().IfNotSet(featureflag.FlagDisableStatusBroadcast, func() {
		var status viewer.Status
		if status, err = h.Viewer.Status(ctx); err != nil {
			return
		}

		if h.statusWasSent && status.Timestamp == h.lastStatus {
			return
		}
		h.lastStatus = status.Timestamp
		h.statusWasSent = true

		respond.Send(Msg{
			Type:   MsgTypeStatus,
			Status: &status,
		})
	})

	return err
}

func (h *ControlHandler) featureFlags() featureflag.FeatureFlag {
	if h.FeatureFlags == nil {
		return featureflag.New(nil)
	}
	return h.FeatureFlags
}

func (h *ControlHandler) Receiver() Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(h.conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").
				WithType(ErrTypeBadRequest).
				Wrap(err)
		}
		return msg, len(data), nil
	}
}

func (h *ControlHandler) Sender() Sender {
	return func(msg Msg) (int, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").Wrap(err)
		}

		if err := websocket.Message.Send(h.conn, string(data)); err != nil {
			return 0, err
		}
		return len(data), nil
	}
}

func (h *ControlHandler) Close() {
}

func (h *ControlHandler) StatusInterval() time.Duration {
	return h.ClientStatusInterval
}

func (h *ControlHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *ControlHandler) GetClientID() string {
	return h.clientID
}

func errMissingField(msg Msg, field string) error {
	return errors.New("message field is missing").
		WithType(ErrTypeBadRequest).
		WithTag("msg_type", msg.Type).
		WithTag("field", field)
}

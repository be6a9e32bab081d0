package websocket

import (
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/viewer"
)

// Client messages.
const (
	MsgTypePing   = "ping"
	MsgTypeResize = "resize"
	MsgTypeConfig = "config"
	MsgTypeDrag   = "drag"
	MsgTypeWheel  = "wheel"
	MsgTypeJump   = "jump"
	MsgTypeMove   = "move"
	MsgTypeLocate = "locate"
)

// Server messages.
const (
	MsgTypePong     = "pong"
	MsgTypeStatus   = "status"
	MsgTypeLocation = "location"
	MsgTypeError    = "error"
)

const (
	ErrTypeBadRequest     = "badRequest"
	ErrTypeUnknownMsgType = "unknownMsgType"
	ErrTypeViewerFailure  = "viewerFailure"
)

// Msg is a JSON message exchanged on the control channel. Which fields are
// set depends on the message type.
type Msg struct {
	Type      string `json:"type"`
	RequestID uint32 `json:"request_id,omitempty"`

	// resize
	Size *models.Size `json:"size,omitempty"`

	// config
	Config *fractal.Config `json:"config,omitempty"`

	// jump, move
	Position *models.Position `json:"position,omitempty"`

	// drag and locate. A drag delta is in pixels.
	Point *models.Point `json:"point,omitempty"`

	// wheel
	DeltaY float64 `json:"delta_y,omitempty"`

	// location
	Plane *models.Complex `json:"plane,omitempty"`

	// status
	Status *viewer.Status `json:"status,omitempty"`

	// error
	Error *ErrorData `json:"error,omitempty"`

	// Set when the frame could not be decoded.
	decodeErr error
}

// ErrorData describes why a client message was rejected.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	MsgType string `json:"msg_type,omitempty"`
}

// Receiver receives a message and reports its size in bytes.
type Receiver func() (Msg, int, error)

// Sender sends a message and reports its size in bytes.
type Sender func(Msg) (int, error)

// ResponseSender queues messages for the client.
type ResponseSender interface {
	Send(Msg)
}

// metricMsgType returns t when it is a known message type, "unknown"
// otherwise.
func metricMsgType(t string) string {
	switch t {
	case MsgTypePing, MsgTypeResize, MsgTypeConfig, MsgTypeDrag, MsgTypeWheel,
		MsgTypeJump, MsgTypeMove, MsgTypeLocate,
		MsgTypePong, MsgTypeStatus, MsgTypeLocation, MsgTypeError:
		return t
	default:
		return "unknown"
	}
}

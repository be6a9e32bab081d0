package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/deepzoom/featureflag"
	"github.com/aukilabs/deepzoom/fractal"
	"github.com/aukilabs/deepzoom/models"
	"github.com/aukilabs/deepzoom/viewer"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type fakeViewer struct {
	mutex     sync.Mutex
	size      models.Size
	config    fractal.Config
	position  models.Position
	goal      models.Position
	drag      models.Point
	wheel     float64
	timestamp uint64
}

func (v *fakeViewer) Resize(size models.Size) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.size = size
}

func (v *fakeViewer) OnConfigChanged(c fractal.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.config = c
	return nil
}

func (v *fakeViewer) ChangeGoalBy(p models.Position) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.goal = v.goal.Add(p)
}

func (v *fakeViewer) JumpTo(p models.Position) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.position = p
	v.goal = p
}

func (v *fakeViewer) DragBy(dx, dy float64) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.drag = models.Point{X: v.drag.X + dx, Y: v.drag.Y + dy}
}

func (v *fakeViewer) Zoom(deltaY float64) {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.wheel += deltaY
}

func (v *fakeViewer) ViewportToPlane(ctx context.Context, p models.Point) (models.Complex, error) {
	return models.Complex{Re: p.X / 100, Im: -p.Y / 100}, nil
}

func (v *fakeViewer) Status(ctx context.Context) (viewer.Status, error) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	return viewer.Status{
		ID:        "fake",
		Timestamp: v.timestamp,
		Size:      v.size,
		Position:  v.position,
		Goal:      v.goal,
	}, nil
}

func (v *fakeViewer) tick() {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.timestamp++
}

func (v *fakeViewer) snapshot() fakeViewer {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	return fakeViewer{
		size:     v.size,
		config:   v.config,
		position: v.position,
		goal:     v.goal,
		drag:     v.drag,
		wheel:    v.wheel,
	}
}

func newTestHandler(v Viewer, statusInterval time.Duration, flags ...string) func() Handler {
	return func() Handler {
		var h Handler = &ControlHandler{
			Viewer:               v,
			ClientStatusInterval: statusInterval,
			ClientIdleTimeout:    time.Minute,
			FeatureFlags:         featureflag.New(flags),
		}

		h = HandlerWithLogs(h, time.Millisecond*100)
		h = HandlerWithMetrics(h, "https://deepzoom-test.com")
		return h
	}
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg Msg) {
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, string(data)))
}

func receiveMsg(t *testing.T, conn *websocket.Conn) Msg {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var data []byte
	require.NoError(t, websocket.Message.Receive(conn, &data))

	var msg Msg
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// receiveMsgOfType skips messages until one of type msgType arrives.
func receiveMsgOfType(t *testing.T, conn *websocket.Conn, msgType string) Msg {
	for {
		msg := receiveMsg(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestControlHandlerPing(t *testing.T) {
	client, close := NewTestingEnv(t, newTestHandler(&fakeViewer{}, 0))
	defer close()

	sendMsg(t, client, Msg{Type: MsgTypePing, RequestID: 42})
	msg := receiveMsg(t, client)
	require.Equal(t, MsgTypePong, msg.Type)
	require.Equal(t, uint32(42), msg.RequestID)
}

func TestControlHandlerInput(t *testing.T) {
	v := &fakeViewer{}
	client, close := NewTestingEnv(t, newTestHandler(v, 0))
	defer close()

	config := fractal.DefaultConfig(fractal.JuliaSet)

	sendMsg(t, client, Msg{Type: MsgTypeResize, Size: &models.Size{Width: 800, Height: 600}})
	sendMsg(t, client, Msg{Type: MsgTypeConfig, Config: &config})
	sendMsg(t, client, Msg{Type: MsgTypeJump, Position: &models.Position{Level: -2}})
	sendMsg(t, client, Msg{Type: MsgTypeMove, Position: &models.Position{Level: 1}})
	sendMsg(t, client, Msg{Type: MsgTypeDrag, Point: &models.Point{X: 10, Y: -5}})
	sendMsg(t, client, Msg{Type: MsgTypeWheel, DeltaY: 120})

	// Messages are handled in order: the pong arrives once every input was
	// applied.
	sendMsg(t, client, Msg{Type: MsgTypePing, RequestID: 1})
	receiveMsgOfType(t, client, MsgTypePong)

	got := v.snapshot()
	require.Equal(t, models.Size{Width: 800, Height: 600}, got.size)
	require.Equal(t, config.Fingerprint(), got.config.Fingerprint())
	require.Equal(t, models.Position{Level: -2}, got.position)
	require.Equal(t, models.Position{Level: -1}, got.goal)
	require.Equal(t, models.Point{X: 10, Y: -5}, got.drag)
	require.Equal(t, 120.0, got.wheel)
}

func TestControlHandlerLocate(t *testing.T) {
	client, close := NewTestingEnv(t, newTestHandler(&fakeViewer{}, 0))
	defer close()

	sendMsg(t, client, Msg{Type: MsgTypeLocate, RequestID: 7, Point: &models.Point{X: 50, Y: 25}})
	msg := receiveMsg(t, client)
	require.Equal(t, MsgTypeLocation, msg.Type)
	require.Equal(t, uint32(7), msg.RequestID)
	require.Equal(t, &models.Complex{Re: 0.5, Im: -0.25}, msg.Plane)
}

func TestControlHandlerRejectsBadMessages(t *testing.T) {
	client, close := NewTestingEnv(t, newTestHandler(&fakeViewer{}, 0))
	defer close()

	invalid := fractal.DefaultConfig(fractal.Mandelbrot)
	invalid.MaxIterations = -1

	tests := []struct {
		name string
		msg  Msg
		code string
	}{
		{
			name: "unknown type",
			msg:  Msg{Type: "teleport", RequestID: 1},
			code: ErrTypeUnknownMsgType,
		},
		{
			name: "missing size",
			msg:  Msg{Type: MsgTypeResize, RequestID: 2},
			code: ErrTypeBadRequest,
		},
		{
			name: "empty size",
			msg:  Msg{Type: MsgTypeResize, RequestID: 3, Size: &models.Size{}},
			code: ErrTypeBadRequest,
		},
		{
			name: "missing position",
			msg:  Msg{Type: MsgTypeJump, RequestID: 4},
			code: ErrTypeBadRequest,
		},
		{
			name: "invalid config",
			msg:  Msg{Type: MsgTypeConfig, RequestID: 5, Config: &invalid},
			code: fractal.ErrTypeInvalidConfig,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			sendMsg(t, client, test.msg)

			msg := receiveMsg(t, client)
			require.Equal(t, MsgTypeError, msg.Type)
			require.Equal(t, test.msg.RequestID, msg.RequestID)
			require.NotNil(t, msg.Error)
			require.Equal(t, test.code, msg.Error.Code)
			require.Equal(t, test.msg.Type, msg.Error.MsgType)
		})
	}

	t.Run("malformed frame", func(t *testing.T) {
		require.NoError(t, websocket.Message.Send(client, `{"type": "resize", "size": {`))

		msg := receiveMsg(t, client)
		require.Equal(t, MsgTypeError, msg.Type)
		require.NotNil(t, msg.Error)
		require.Equal(t, ErrTypeBadRequest, msg.Error.Code)

		// The connection stays open.
		sendMsg(t, client, Msg{Type: MsgTypePing, RequestID: 6})
		msg = receiveMsg(t, client)
		require.Equal(t, MsgTypePong, msg.Type)
		require.Equal(t, uint32(6), msg.RequestID)
	})
}

func TestControlHandlerStatus(t *testing.T) {
	t.Run("status is pushed when it changes", func(t *testing.T) {
		v := &fakeViewer{}
		client, close := NewTestingEnv(t, newTestHandler(v, 10*time.Millisecond))
		defer close()

		msg := receiveMsgOfType(t, client, MsgTypeStatus)
		require.Equal(t, "fake", msg.Status.ID)
		require.Equal(t, uint64(0), msg.Status.Timestamp)

		v.tick()
		msg = receiveMsgOfType(t, client, MsgTypeStatus)
		require.Equal(t, uint64(1), msg.Status.Timestamp)
	})

	t.Run("status broadcast is disabled", func(t *testing.T) {
		client, close := NewTestingEnv(t, newTestHandler(
			&fakeViewer{},
			10*time.Millisecond,
			string(featureflag.FlagDisableStatusBroadcast),
		))
		defer close()

		time.Sleep(50 * time.Millisecond)
		sendMsg(t, client, Msg{Type: MsgTypePing})
		require.Equal(t, MsgTypePong, receiveMsg(t, client).Type)
	})
}

func TestControlHandlerIdleTimeout(t *testing.T) {
	client, close := NewTestingEnv(t, func() Handler {
		return &ControlHandler{
			Viewer:            &fakeViewer{},
			ClientIdleTimeout: 20 * time.Millisecond,
		}
	})
	defer close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))

	var data []byte
	require.Error(t, websocket.Message.Receive(client, &data))
}

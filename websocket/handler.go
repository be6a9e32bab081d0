package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 64
	receiveChanSize = 64
)

// Handler represents a viewer control handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a draw surface resize.
	HandleResize(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a fractal config change.
	HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a pointer drag.
	HandleDrag(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a mouse wheel move.
	HandleWheel(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to move the camera without transition.
	HandleJump(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to move the camera goal.
	HandleMove(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request for the plane point under a pixel.
	HandleLocate(ctx context.Context, respond ResponseSender, msg Msg) error

	// Sends the viewer status to the client.
	SendStatus(ctx context.Context, respond ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send messages to the client.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each status message sent to the connected
	// client. Zero disables status messages.
	StatusInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	GetClientID() string
}

// Handle serves the connection with the given handler until the client
// disconnects or ctx is done.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The control handler.
	Handler Handler

	sendChan       chan Msg
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	h.sendChan = make(chan Msg, sendChanSize)
	h.receiveChan = make(chan Msg, receiveChanSize)
	h.sender = h.Handler.Sender()
	h.receiver = h.Handler.Receiver()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	err := h.serve(ctx)
	h.handleDisconnect(err)

	// The connection is closed: cancel context so go routines can cleanly
	// exit.
	cancel()
	wg.Wait()
}

func (h *handler) serve(ctx context.Context) error {
	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	var statusTick <-chan time.Time
	if interval := h.Handler.StatusInterval(); interval > 0 {
		statusTicker := time.NewTicker(interval)
		defer statusTicker.Stop()
		statusTick = statusTicker.C
	}

	responder := responseSender{
		send: h.send,
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-idleTimer.C:
			return errors.New("idle connection").WithTag("duration", idleTimeout)

		case <-statusTick:
			if err := h.Handler.SendStatus(ctx, responder); err != nil {
				return errors.New("sending status failed").Wrap(err)
			}

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				return errors.New("handling message failed").Wrap(err)
			}

		case err := <-h.disconnectChan:
			return err
		}
	}
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	default:
		logs.WithClientID(h.Handler.GetClientID()).
			WithTag("msg_type", msg.Type).
			Error(errors.New("send queue is full: message dropped"))
	}
}

func (h *handler) startSending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if errors.IsType(err, ErrTypeBadRequest) {
			msg = Msg{decodeErr: err}
		} else if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	if msg.decodeErr != nil {
		respondError(responder, msg, msg.decodeErr)
		return nil
	}

	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeResize:
		return h.Handler.HandleResize(ctx, responder, msg)

	case MsgTypeConfig:
		return h.Handler.HandleConfig(ctx, responder, msg)

	case MsgTypeDrag:
		return h.Handler.HandleDrag(ctx, responder, msg)

	case MsgTypeWheel:
		return h.Handler.HandleWheel(ctx, responder, msg)

	case MsgTypeJump:
		return h.Handler.HandleJump(ctx, responder, msg)

	case MsgTypeMove:
		return h.Handler.HandleMove(ctx, responder, msg)

	case MsgTypeLocate:
		return h.Handler.HandleLocate(ctx, responder, msg)

	default:
		respondError(responder, msg, errors.New("unknown message type").
			WithType(ErrTypeUnknownMsgType).
			WithTag("msg_type", msg.Type))
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(Msg)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}

// respondError reports to the client that msg was rejected.
func respondError(respond ResponseSender, msg Msg, err error) {
	code := errors.Type(err)
	if code == "" {
		code = ErrTypeViewerFailure
	}

	respond.Send(Msg{
		Type:      MsgTypeError,
		RequestID: msg.RequestID,
		Error: &ErrorData{
			Code:    code,
			Message: err.Error(),
			MsgType: msg.Type,
		},
	})
}

package websocket

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	userAgent   string
	remoteAddr  string
	connectedAt time.Time

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.userAgent = req.UserAgent()
	h.remoteAddr = req.RemoteAddr
	h.connectedAt = time.Now()

	logs.WithClientID(h.GetClientID()).
		WithTag("user_agent", h.userAgent).
		WithTag("remote_addr", h.remoteAddr).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleConfig(ctx context.Context, respond ResponseSender, msg Msg) error {
	watcher := &errorWatcher{ResponseSender: respond}
	if err := h.Handler.HandleConfig(ctx, watcher, msg); err != nil {
		return err
	}

	if msg.Config != nil && !watcher.rejected {
		logs.WithClientID(h.GetClientID()).
			WithTag("config", msg.Config.String()).
			Info("client changed the fractal config")
	}
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)

	entry := logs.WithClientID(h.GetClientID()).
		WithTag("remote_addr", h.remoteAddr).
		WithTag("connection_duration", time.Since(h.connectedAt))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
		entry = entry.WithTag("reason", err.Error())
	}
	entry.Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() Receiver {
	receive := h.Handler.Receiver()

	return func() (Msg, int, error) {
		msg, n, err := receive()
		if errors.IsType(err, ErrTypeBadRequest) {
			logs.WithClientID(h.GetClientID()).
				WithTag("remote_addr", h.remoteAddr).
				WithTag("msg_size", n).
				Warn(err)
		} else if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag("remote_addr", h.remoteAddr).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag("msg_type", msg.Type).
				WithTag("msg_size", n).
				Debug("message received")
			h.incCounter(msg.Type)
		}
		return msg, n, err
	}
}

func (h *handlerWithLogs) Sender() Sender {
	sender := h.Handler.Sender()

	return func(msg Msg) (int, error) {
		n, err := sender(msg)
		if err != nil && !errors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag("msg_type", msg.Type).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag("msg_type", msg.Type).
				WithTag("msg_size", n).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag("remote_addr", h.remoteAddr).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}

// errorWatcher records whether an error response was sent.
type errorWatcher struct {
	ResponseSender
	rejected bool
}

func (w *errorWatcher) Send(msg Msg) {
	if msg.Type == MsgTypeError {
		w.rejected = true
	}
	w.ResponseSender.Send(msg)
}

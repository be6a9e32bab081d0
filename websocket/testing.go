package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// NewTestingEnv serves the control channel on a local test server, each
// connection being handled by a handler returned by newHandler. It returns a
// connected client and a function that closes both ends.
//
// Logs are routed to t until the returned function is called.
func NewTestingEnv(t *testing.T, newHandler func() Handler) (*websocket.Conn, func()) {
	tl := &testLogger{t: t}

	logs.Encoder = func(v any) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}
	logs.SetLogger(tl.log)
	errors.Encoder = json.Marshal

	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(websocket.Server{
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			h := newHandler()
			defer h.Close()

			Handle(ctx, conn, h)
		},
	})

	client, err := dialTestServer(server.URL)
	if err != nil {
		cancel()
		server.Close()
		t.Fatalf("dialing control server failed: %s", err)
	}

	return client, func() {
		tl.stop()
		client.Close()
		cancel()
		server.Close()
	}
}

func dialTestServer(serverURL string) (*websocket.Conn, error) {
	endpoint := strings.Replace(serverURL, "http://", "ws://", 1)

	config, err := websocket.NewConfig(endpoint, "http://localhost")
	if err != nil {
		return nil, err
	}
	config.Header.Set("User-Agent", "deepzoom-test")
	config.Header.Set(HeaderClientID, uuid.NewString())

	return websocket.DialConfig(config)
}

// testLogger forwards log entries to a test until it is stopped. Entries
// logged after the test ended would otherwise make it panic.
type testLogger struct {
	mutex   sync.Mutex
	t       *testing.T
	stopped bool
}

func (l *testLogger) log(e logs.Entry) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if !l.stopped {
		l.t.Log(e)
	}
}

func (l *testLogger) stop() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.stopped = true
}

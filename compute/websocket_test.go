package compute

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestWebsocketClient(t *testing.T, r Renderer) (*WebsocketClient, func()) {
	var mux http.ServeMux
	mux.HandleFunc(WebsocketPath, HandleWebsocket(r))
	server := httptest.NewServer(&mux)

	client := &WebsocketClient{
		Endpoint: strings.ReplaceAll(server.URL, "http://", "ws://") + WebsocketPath,
	}

	return client, func() {
		require.NoError(t, client.Close())
		server.Close()
	}
}

func TestWebsocketClientRenderTile(t *testing.T) {
	client, close := newTestWebsocketClient(t, Local{Workers: 2})
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := newTestRequest()
	expected, err := Local{}.RenderTile(ctx, req)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		img, err := client.RenderTile(ctx, req)
		require.NoError(t, err)
		require.Equal(t, expected.Pix, img.Pix)
	}

	bad := newTestRequest()
	bad.Config.Variant = "Unknown"
	_, err = client.RenderTile(ctx, bad)
	require.True(t, errors.IsType(err, ErrTypeServiceError))

	// Service errors keep the connection open.
	img, err := client.RenderTile(ctx, req)
	require.NoError(t, err)
	require.Equal(t, expected.Pix, img.Pix)
}

func TestWebsocketClientRedialsAfterCancel(t *testing.T) {
	client, close := newTestWebsocketClient(t, Local{Delay: 200 * time.Millisecond})
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.RenderTile(ctx, newTestRequest())
	require.Error(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	img, err := client.RenderTile(ctx, newTestRequest())
	require.NoError(t, err)
	require.Equal(t, 16, img.Bounds().Dx())
}

func TestWebsocketClientDialFailure(t *testing.T) {
	client := &WebsocketClient{Endpoint: "ws://127.0.0.1:0/ws"}

	_, err := client.RenderTile(context.Background(), newTestRequest())
	require.Error(t, err)
	require.NoError(t, client.Close())
}

package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/chatcall/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts the dev login and upgrades the signaling route. serve
// runs on the server side of every websocket.
func fakeServer(t *testing.T, serve func(*websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/dev/session", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/ws/signal", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestClient_SilentServerIsDetected(t *testing.T) {
	url := fakeServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	c, err := Dial(context.Background(), url, "alice", ClientOptions{
		WriteWait:  time.Second,
		PingPeriod: 50 * time.Millisecond,
		PongWait:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background(), nil, nil) }()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.ErrorContains(t, err, "read")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not notice the silent server")
	}
}

func TestClient_ServerPingsKeepLinkAlive(t *testing.T) {
	var pings atomic.Int32
	url := fakeServer(t, func(conn *websocket.Conn) {
		conn.SetPongHandler(func(string) error { return nil })
		go func() {
			ticker := time.NewTicker(40 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg core.Message
			if json.Unmarshal(data, &msg) == nil && msg.Type == core.TypePing {
				pings.Add(1)
			}
		}
	})

	c, err := Dial(context.Background(), url, "alice", ClientOptions{
		WriteWait:  time.Second,
		PingPeriod: 50 * time.Millisecond,
		PongWait:   200 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx, nil, nil) }()

	select {
	case err := <-errc:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(600 * time.Millisecond):
	}
	assert.Positive(t, pings.Load(), "client sends keepalive pings")

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

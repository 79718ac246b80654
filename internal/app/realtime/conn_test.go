package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impnet/service_layer/pkg/logger"
)

// serverConn upgrades one request and returns the server side as a Conn.
func serverConn(t *testing.T, cfg ConnConfig) *Conn {
	t.Helper()
	conns := make(chan *Conn, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- NewConn(ws, "alice", cfg, logger.NewDiscard())
	}))
	t.Cleanup(server.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
		return nil
	}
}

func TestConnSendAfterCloseAlwaysFails(t *testing.T) {
	c := serverConn(t, ConnConfig{SendBuffer: 1024})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = c.Send([]byte(`{"type":"x"}`))
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Close())
	queued := len(c.send)
	for i := 0; i < 1000; i++ {
		assert.ErrorIs(t, c.Send([]byte(`{"type":"late"}`)), ErrClosed)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, queued, len(c.send))
}

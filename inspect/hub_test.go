package inspect

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/ddcproxy/proxy"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) proxy.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev proxy.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestHubDeliversEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Pump(ctx)

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Observe(proxy.Event{Kind: proxy.KindRequest, Addr: 0x6E, Data: "0110"})
	hub.Observe(proxy.Event{Kind: proxy.KindReply, Addr: 0x6F, Bytes: 11})

	ev := readEvent(t, conn)
	assert.Equal(t, proxy.KindRequest, ev.Kind)
	assert.Equal(t, byte(0x6E), ev.Addr)
	assert.Equal(t, "0110", ev.Data)
	ev = readEvent(t, conn)
	assert.Equal(t, proxy.KindReply, ev.Kind)
	assert.Equal(t, 11, ev.Bytes)
}

func TestHubReplaysBacklog(t *testing.T) {
	hub := NewHub(WithBacklog(2))
	for i := 1; i <= 3; i++ {
		hub.Publish(proxy.Event{Kind: proxy.KindEDIDServed, Bytes: i})
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	assert.Equal(t, 2, readEvent(t, conn).Bytes)
	assert.Equal(t, 3, readEvent(t, conn).Bytes)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
	hub.Publish(proxy.Event{Kind: proxy.KindIgnored})
}

func TestObserveDropsWhenFull(t *testing.T) {
	hub := NewHub()
	for i := 0; i < queueSize+5; i++ {
		hub.Observe(proxy.Event{Kind: proxy.KindIgnored})
	}
	assert.Equal(t, 5, hub.Dropped())
}

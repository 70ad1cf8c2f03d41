package host

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zot/codata/internal/client"
	"github.com/zot/codata/internal/config"
	"github.com/zot/codata/internal/model"
	"github.com/zot/codata/internal/protocol"
	"github.com/zot/codata/internal/transport"
)

func startHost(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	cfg.Host.Port = 0
	cfg.Host.Debounce = 0
	cfg.Host.Socket = filepath.Join(t.TempDir(), "codata.sock")
	s, err := New(cfg)
	require.NoError(t, err)
	_, err = s.Start()
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func dialClient(t *testing.T, url string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialWebSocket(ctx, url, nil)
	require.NoError(t, err)
	c := client.New(conn, client.WithTimeout(5*time.Second))
	t.Cleanup(func() {
		c.Close()
		conn.Close()
	})
	return c
}

func TestWebSocketNotificationsInvalidateCache(t *testing.T) {
	s := httptestServer(t)
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	ctx := context.Background()

	watcher := dialClient(t, url)
	writer := dialClient(t, url)

	var listChanges, contextChanges atomic.Int32
	watcher.OnContextListChange(func() { listChanges.Add(1) })
	watcher.OnContextChange("family", func() { contextChanges.Add(1) })

	require.NoError(t, writer.CreateContext(ctx, family()))
	_, err := writer.InsertItems(ctx, "family", familyItems())
	require.NoError(t, err)

	records, err := watcher.GetData(ctx, "family")
	require.NoError(t, err)
	require.Len(t, records, 3)

	_, err = writer.InsertItems(ctx, "family", []model.Record{{"last": "Ng", "first": "Di", "age": 7}})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		records, err := watcher.GetData(ctx, "family")
		return err == nil && len(records) == 4
	}, 2*time.Second, 10*time.Millisecond, "notification should drop the cached records")
	assert.Eventually(t, func() bool {
		return listChanges.Load() > 0 && contextChanges.Load() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPacketSocketClient(t *testing.T) {
	s := startHost(t)
	network, address := s.SocketAddr()
	require.NotEmpty(t, address)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialPacket(ctx, network, address, nil)
	require.NoError(t, err)
	defer conn.Close()
	c := client.New(conn)
	defer c.Close()

	require.NoError(t, c.CreateContext(ctx, family()))
	infos, err := c.ListContexts(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "family", infos[0].Name)

	err = c.ReplaceCollections(ctx, "family", []model.Collection{{Name: "rows", Attrs: []model.Attribute{{Name: "x"}}}},
		[]model.Record{{"x": 1}, {"x": 2}})
	require.NoError(t, err)
	dc, err := c.GetContext(ctx, "family")
	require.NoError(t, err)
	assert.Equal(t, []string{"rows"}, dc.CollectionNames())
	records, err := c.GetData(ctx, "family")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestServerStartAndShutdown(t *testing.T) {
	s := startHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.DialWebSocket(ctx, "ws://"+s.listener.Addr().String()+"/ws", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.ConnectionCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Shutdown(ctx))

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection should close on shutdown")
	}
	_, err = conn.Call(ctx, []protocol.Request{protocol.GetContextList()})
	assert.ErrorIs(t, err, transport.ErrClosed)
}

// httptestServer serves a host through httptest rather than Start.
func httptestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SetLogOutput(io.Discard)
	cfg.Host.Debounce = 0
	notifier := NewNotifier(0, cfg)
	h, err := NewHandler(cfg, nil, notifier)
	require.NoError(t, err)
	s := NewServer(cfg, h, notifier)
	ts := httptest.NewServer(s.HTTPHandler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		ts.Close()
	})
	return ts
}

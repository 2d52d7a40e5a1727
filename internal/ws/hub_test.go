package ws

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/memory"
)

type countingMetrics struct {
	open atomic.Int64
}

func (m *countingMetrics) IncrementConnections(context.Context) { m.open.Add(1) }
func (m *countingMetrics) DecrementConnections(context.Context) { m.open.Add(-1) }

func newHubServer(t *testing.T) (*Hub, *memory.Store, *countingMetrics, *httptest.Server) {
	t.Helper()
	store := memory.New(0)
	t.Cleanup(func() { store.Close() })

	m := &countingMetrics{}
	hub := NewHub(store, zap.NewNop().Sugar(), m, []string{"http://allowed.example"})
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(srv.Close)
	return hub, store, m, srv
}

func dial(t *testing.T, srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	return websocket.DefaultDialer.Dial(url, header)
}

func TestEnvelope(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	raw, err := Envelope(&kv.Message{Channel: "prices", Payload: []byte(`{"p":1}`)}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","topic":"prices","data":{"p":1},"timestamp":1700000000}`, string(raw))

	raw, err = Envelope(&kv.Message{Channel: "chat", Payload: []byte("hello")}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","topic":"chat","data":"hello","timestamp":1700000000}`, string(raw))
}

func TestParseChannels(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?channels=a,%20b,,c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, ParseChannels(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, ParseChannels(r))
}

func TestWebSocketReceivesPublishedMessages(t *testing.T) {
	ctx := context.Background()
	hub, store, m, srv := newHubServer(t)

	conn, _, err := dial(t, srv, "channels=news,alerts", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), m.open.Load())

	n, err := store.Publish(ctx, "news", []byte(`{"headline":"kv"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "news", msg.Topic)
	assert.JSONEq(t, `{"headline":"kv"}`, string(msg.Data))

	// unsubscribed channels are not delivered
	n, err = store.Publish(ctx, "other", []byte("x"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWebSocketClientPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, store, _, srv := newHubServer(t)

	sub, err := store.Subscribe(ctx, "chat")
	require.NoError(t, err)
	defer sub.Close()

	conn, _, err := dial(t, srv, "channels=ignored", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: "publish", Topic: "chat", Data: json.RawMessage(`"hi"`)}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "chat", msg.Channel)
		assert.Equal(t, `"hi"`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("client publish not delivered")
	}
}

func TestWebSocketRequiresChannels(t *testing.T) {
	_, _, _, srv := newHubServer(t)

	_, resp, err := dial(t, srv, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, _, _, srv := newHubServer(t)

	_, resp, err := dial(t, srv, "channels=a", http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := dial(t, srv, "channels=a", http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestHubRunDisconnectsClients(t *testing.T) {
	hub, _, m, srv := newHubServer(t)

	conn, _, err := dial(t, srv, "channels=a", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Zero(t, hub.Len())
	assert.Zero(t, m.open.Load())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestSSEStreamsMessages(t *testing.T) {
	store := memory.New(0)
	defer store.Close()
	srv := httptest.NewServer(http.HandlerFunc(NewSSEHandler(store, zap.NewNop().Sugar()).HandleSSE))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/?channels=news", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	_, err = store.Publish(context.Background(), "news", []byte("breaking"))
	require.NoError(t, err)

	var data string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {") {
			data = strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n")
			break
		}
	}
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, "news", msg.Topic)
	assert.JSONEq(t, `"breaking"`, string(msg.Data))
}

func TestSSEShutdownEndsStreams(t *testing.T) {
	store := memory.New(0)
	defer store.Close()
	sse := NewSSEHandler(store, zap.NewNop().Sugar())
	srv := httptest.NewServer(http.HandlerFunc(sse.HandleSSE))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?channels=news")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	sse.Shutdown()
	sse.Shutdown()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, reader)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream still open after shutdown")
	}
}

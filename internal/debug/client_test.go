package debug

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkova/pipechat/internal/chat"
)

// startChatServer runs an in-process pipeline chat endpoint. handle is
// invoked for every frame the client sends; it may write frames back on the
// connection with serverSend.
func startChatServer(t *testing.T, handle func(conn *websocket.Conn, f Frame)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/pipelines/pipe-1/chat/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := ParseFrame(raw)
			if err != nil {
				continue
			}
			handle(conn, f)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// serverSend writes one frame from the mock server to the client.
func serverSend(t *testing.T, conn *websocket.Conn, frameType string, data any) {
	t.Helper()
	require.NoError(t, writeFrameTo(conn, frameType, data))
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestClient_ConnectHandshake(t *testing.T) {
	connectFrames := make(chan connectPayload, 1)
	historyRequests := make(chan loadHistoryPayload, 1)

	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		switch f.Type {
		case FrameTypeConnect:
			var p connectPayload
			require.NoError(t, unmarshalData(f, &p))
			connectFrames <- p
			serverSend(t, conn, FrameTypeConnected, connectedData{
				ConnectionID: "conn-1",
				SessionType:  p.SessionType,
				PipelineUUID: p.PipelineUUID,
			})
		case FrameTypeLoadHistory:
			var p loadHistoryPayload
			require.NoError(t, unmarshalData(f, &p))
			historyRequests <- p
			serverSend(t, conn, FrameTypeHistory, historyData{HasMore: false})
		}
	})

	connected := make(chan string, 1)
	gotHistory := make(chan bool, 1)
	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithSessionKind(KindGroup),
		WithStaticToken("tok-abc"),
		WithHandlers(Handlers{
			OnConnected: func(id string) { connected <- id },
			OnHistory:   func(_ []chat.Message, hasMore bool) { gotHistory <- hasMore },
		}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.Equal(t, StateConnected, c.State())

	p := waitFor(t, connectFrames, "connect frame")
	assert.Equal(t, "pipe-1", p.PipelineUUID)
	assert.Equal(t, "group", p.SessionType)
	assert.Equal(t, "tok-abc", p.Token)

	assert.Equal(t, "conn-1", waitFor(t, connected, "connected event"))

	// The client requests history on its own after session confirmation.
	req := waitFor(t, historyRequests, "history request")
	assert.Equal(t, DefaultHistoryLimit, req.Limit)
	assert.False(t, waitFor(t, gotHistory, "history event"))
}

func TestClient_SendAndStreamEndToEnd(t *testing.T) {
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		switch f.Type {
		case FrameTypeConnect:
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
		case FrameTypeLoadHistory:
			serverSend(t, conn, FrameTypeHistory, historyData{})
		case FrameTypeSendMessage:
			var p sendMessagePayload
			require.NoError(t, unmarshalData(f, &p))
			serverSend(t, conn, FrameTypeMessageSent, messageSentData{
				ClientMessageID: p.ClientMessageID,
				ServerMessageID: 42,
			})
			serverSend(t, conn, FrameTypeMessageStart, messageStartData{MessageID: 43, Role: "assistant"})
			serverSend(t, conn, FrameTypeMessageChunk, messageChunkData{MessageID: 43, Content: "Hel"})
			serverSend(t, conn, FrameTypeMessageChunk, messageChunkData{MessageID: 43, Content: "Hello"})
			serverSend(t, conn, FrameTypeMessageComplete, messageCompleteData{MessageID: 43, FinalContent: "Hello"})
		}
	})

	connected := make(chan string, 1)
	acked := make(chan int64, 1)
	completed := make(chan chat.Message, 1)
	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithHandlers(Handlers{
			OnConnected:       func(id string) { connected <- id },
			OnMessageSent:     func(_ string, serverID int64) { acked <- serverID },
			OnMessageComplete: func(msg chat.Message) { completed <- msg },
		}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()
	waitFor(t, connected, "connected event")

	clientID, err := c.SendText("hi")
	require.NoError(t, err)
	require.NotEmpty(t, clientID)

	assert.EqualValues(t, 42, waitFor(t, acked, "message_sent"))
	reply := waitFor(t, completed, "message_complete")
	assert.Equal(t, "Hello", reply.Content)

	msgs := c.Session().Messages()
	require.Len(t, msgs, 2)
	assert.EqualValues(t, 42, msgs[0].ID, "provisional id must be reconciled")
	assert.Equal(t, 0, c.Session().PendingCount())
	assert.EqualValues(t, 43, msgs[1].ID)
	assert.Equal(t, "Hello", msgs[1].Content)
}

func TestClient_HeartbeatStopsAfterDisconnect(t *testing.T) {
	pings := make(chan pingPayload, 32)
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		switch f.Type {
		case FrameTypeConnect:
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
		case FrameTypePing:
			var p pingPayload
			require.NoError(t, unmarshalData(f, &p))
			pings <- p
			serverSend(t, conn, FrameTypePong, pongData{Timestamp: p.Timestamp})
		}
	})

	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithHeartbeatInterval(20*time.Millisecond))

	require.NoError(t, c.Connect(context.Background()))

	p := waitFor(t, pings, "first ping")
	assert.Positive(t, p.Timestamp)
	waitFor(t, pings, "second ping")

	c.Disconnect()

	// Drain anything in flight, then verify silence.
	for {
		select {
		case <-pings:
			continue
		case <-time.After(150 * time.Millisecond):
		}
		break
	}
	select {
	case <-pings:
		t.Fatal("heartbeat kept running after Disconnect")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	c := newTestClient(t)

	_, err := c.SendText("dropped")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, c.Session().Messages(), "nothing is queued")
	assert.Equal(t, 0, c.Session().PendingCount())
}

func TestClient_DisconnectIsIdempotent(t *testing.T) {
	disconnects := make(chan error, 4)
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		if f.Type == FrameTypeConnect {
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
		}
	})

	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithHandlers(Handlers{
			OnDisconnected: func(err error) { disconnects <- err },
		}))

	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	c.Disconnect()
	c.Disconnect()

	assert.NoError(t, waitFor(t, disconnects, "disconnect event"))
	select {
	case <-disconnects:
		t.Fatal("repeated Disconnect fired the handler again")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClient_UnexpectedCloseSchedulesReconnect(t *testing.T) {
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		if f.Type == FrameTypeConnect {
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
			// Simulate a server crash.
			conn.Close()
		}
	})

	disconnected := make(chan error, 1)
	reconnecting := make(chan time.Duration, 1)
	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithHandlers(Handlers{
			OnDisconnected: func(err error) { disconnected <- err },
			OnReconnecting: func(attempt int, delay time.Duration) {
				if attempt == 1 {
					reconnecting <- delay
				}
			},
		}))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.Error(t, waitFor(t, disconnected, "disconnect event"))
	assert.Equal(t, 2*time.Second, waitFor(t, reconnecting, "reconnect schedule"))
}

func TestClient_DisconnectDuringDialWins(t *testing.T) {
	pings := make(chan struct{}, 8)
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		switch f.Type {
		case FrameTypeConnect:
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
		case FrameTypePing:
			pings <- struct{}{}
		}
	})

	// Hold the dial open so Disconnect can land while it is in flight.
	gate := make(chan struct{})
	dialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			<-gate
			return net.Dial(network, addr)
		},
	}

	c := New(srv.URL, "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithDialer(dialer),
		WithHeartbeatInterval(20*time.Millisecond))

	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(context.Background()) }()

	time.Sleep(50 * time.Millisecond) // let Connect reach the blocked dial
	c.Disconnect()
	close(gate)

	err := waitFor(t, errCh, "connect result")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDisconnected, c.State())

	// The late dial must not have revived heartbeat or read loops.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, pings)
}

func TestClient_ConnectRequiresTokenProvider(t *testing.T) {
	c := New("http://localhost:9", "pipe-1", WithLogger(quietLogger()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrNoTokenProvider)
}

func TestClient_ConnectRejectsDoubleConnect(t *testing.T) {
	srv := startChatServer(t, func(conn *websocket.Conn, f Frame) {
		if f.Type == FrameTypeConnect {
			serverSend(t, conn, FrameTypeConnected, connectedData{ConnectionID: "conn-1"})
		}
	})

	c := New(srv.URL, "pipe-1", WithLogger(quietLogger()), WithStaticToken("tok"))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestClient_ConnectFailsAgainstDeadServer(t *testing.T) {
	c := New("http://127.0.0.1:1", "pipe-1",
		WithLogger(quietLogger()),
		WithStaticToken("tok"),
		WithConnectTimeout(500*time.Millisecond))

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestChatURLDerivation(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://host:8080", "ws://host:8080/api/v1/pipelines/pipe-1/chat/ws"},
		{"https://host", "wss://host/api/v1/pipelines/pipe-1/chat/ws"},
		{"ws://host", "ws://host/api/v1/pipelines/pipe-1/chat/ws"},
	}
	for _, tt := range tests {
		c := New(tt.server, "pipe-1", WithLogger(quietLogger()))
		got, err := c.chatURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	c := New("ftp://host", "pipe-1", WithLogger(quietLogger()))
	_, err := c.chatURL()
	assert.Error(t, err)
}

func TestReconnectDelaySchedule(t *testing.T) {
	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
	}
	for n, d := range want {
		assert.Equal(t, d, reconnectDelay(n), "attempt %d", n)
	}
}

func TestScheduleReconnect_StopsAfterMaxAttempts(t *testing.T) {
	c := newTestClient(t)

	c.mu.Lock()
	c.attempts = maxReconnectAttempts
	c.mu.Unlock()

	c.scheduleReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Nil(t, c.reconnectTimer, "no attempt beyond the fifth")
}

func TestScheduleReconnect_SuppressedAfterManualDisconnect(t *testing.T) {
	c := newTestClient(t)

	c.mu.Lock()
	c.manualClose = true
	c.mu.Unlock()

	c.scheduleReconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Nil(t, c.reconnectTimer)
}

// unmarshalData mirrors Client.decode for test servers.
func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

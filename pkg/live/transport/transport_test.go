package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/g-agent/agentlive/pkg/core"
	"github.com/g-agent/agentlive/pkg/live/protocol"
)

func newWebsocketTestServer(t *testing.T, handler func(conn *websocket.Conn)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

func TestDialAndDispatch(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_ = conn.WriteJSON(protocol.Envelope{
			Event: protocol.EventChatChunk,
			Data:  json.RawMessage(`{"chunk":"hello"}`),
		})
		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, Options{DisableReconnect: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	got := make(chan string, 1)
	conn.On(protocol.EventChatChunk, func(data json.RawMessage) {
		var chunk protocol.ChatChunk
		_ = json.Unmarshal(data, &chunk)
		got <- chunk.Chunk
	})

	select {
	case chunk := <-got:
		if chunk != "hello" {
			t.Fatalf("chunk = %q, want hello", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatched event")
	}
}

func TestEmitWithAck(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.AckID != 0 {
				_ = conn.WriteJSON(protocol.Envelope{
					Event: protocol.EventAck,
					AckID: env.AckID,
					Data:  json.RawMessage(`{"error":""}`),
				})
			}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, Options{DisableReconnect: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := conn.EmitWithAck(ctx, protocol.EventJoinSTT, protocol.JoinSTT{
		STTURL:   "https://example.com/stt",
		ClientID: "c_1",
		Agent:    "ml",
	})
	if err != nil {
		t.Fatalf("EmitWithAck: %v", err)
	}
	var ack protocol.Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Error != "" {
		t.Fatalf("ack error = %q, want empty", ack.Error)
	}
}

func TestReconnectCallbackFiresOncePerDrop(t *testing.T) {
	t.Parallel()

	var accepts atomic.Int64
	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		n := accepts.Add(1)
		if n == 1 {
			// Give the client a moment to register its callback, then drop
			// the connection to force a reconnect.
			time.Sleep(100 * time.Millisecond)
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, Options{
		ReconnectDelay:    10 * time.Millisecond,
		ReconnectDelayMax: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	reconnected := make(chan int, 4)
	conn.OnReconnect(func(attempt int) { reconnected <- attempt })

	select {
	case attempt := <-reconnected:
		if attempt < 1 {
			t.Fatalf("attempt = %d, want >= 1", attempt)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for reconnect callback")
	}

	select {
	case attempt := <-reconnected:
		t.Fatalf("reconnect callback fired twice (second attempt %d)", attempt)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDialFailureIsConnectionError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	_, err := Dial(context.Background(), url, Options{HandshakeTimeout: 500 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected dial error")
	}
	if !core.IsType(err, core.ErrConnection) {
		t.Fatalf("err = %v, want connection_error", err)
	}
}

func TestEmitAfterCloseIsNotConnected(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newWebsocketTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	conn, err := Dial(context.Background(), serverURL, Options{DisableReconnect: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	if err := conn.Emit(protocol.EventChat, protocol.Chat{Text: "x", Agent: "ml"}); !core.IsType(err, core.ErrNotConnected) {
		t.Fatalf("err = %v, want not_connected", err)
	}
}

func TestWebSocketURL(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]string{
		"http://example.com/llm":  "ws://example.com/llm",
		"https://example.com/llm": "wss://example.com/llm",
		"wss://example.com/llm":   "wss://example.com/llm",
	} {
		got, err := WebSocketURL(raw)
		if err != nil {
			t.Fatalf("WebSocketURL(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("WebSocketURL(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := WebSocketURL("ftp://example.com"); !core.IsType(err, core.ErrInvalidArgument) {
		t.Fatalf("expected invalid_argument for ftp scheme")
	}
}

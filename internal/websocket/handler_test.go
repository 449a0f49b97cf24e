package websocket

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/internal/core"
	"collabhub/pkg/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	c := core.New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)
	srv := httptest.NewServer(NewHandler(c, cfg.WebSocket))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, eventType types.EventType, payload any) {
	t.Helper()
	ev, err := types.NewEvent(eventType, "", "", payload)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if err := ws.WriteJSON(ev); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
}

func readUntil(t *testing.T, ws *websocket.Conn, want types.EventType) *types.Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev types.Event
		if err := ws.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.Type == want {
			return &ev
		}
	}
}

func TestConnectJoinAndMessage(t *testing.T) {
	srv := newTestServer(t)

	alice := dial(t, srv)
	sendEvent(t, alice, types.EventConnect, types.ConnectPayload{UserID: "alice"})
	ack := readUntil(t, alice, types.EventConnectionEstablished)

	var established types.ConnectionEstablishedPayload
	if err := json.Unmarshal(ack.Data, &established); err != nil {
		t.Fatalf("handshake payload decode failed: %v", err)
	}
	if established.UserID != "alice" || established.SocketID == "" {
		t.Errorf("handshake payload = %+v", established)
	}

	bob := dial(t, srv)
	sendEvent(t, bob, types.EventConnect, types.ConnectPayload{UserID: "bob"})
	readUntil(t, bob, types.EventConnectionEstablished)

	sendEvent(t, alice, types.EventJoinRoom, types.JoinRoomPayload{RoomID: "chat_e2e"})
	readUntil(t, alice, types.EventRoomJoined)

	sendEvent(t, bob, types.EventJoinRoom, types.JoinRoomPayload{RoomID: "chat_e2e"})
	readUntil(t, bob, types.EventRoomJoined)
	readUntil(t, alice, types.EventUserJoined)

	sendEvent(t, alice, types.EventSendMessage, types.SendMessagePayload{RoomID: "chat_e2e", Content: "hello over the wire"})
	readUntil(t, alice, types.EventMessageSent)

	received := readUntil(t, bob, types.EventMessageReceived)
	var p types.MessageReceivedPayload
	if err := json.Unmarshal(received.Data, &p); err != nil {
		t.Fatalf("message payload decode failed: %v", err)
	}
	if p.Message.Content != "hello over the wire" || p.Message.UserID != "alice" {
		t.Errorf("message = %+v", p.Message)
	}
}

func TestFirstFrameMustBeConnect(t *testing.T) {
	srv := newTestServer(t)
	ws := dial(t, srv)

	sendEvent(t, ws, types.EventPing, nil)

	ev := readUntil(t, ws, types.EventError)
	var p types.ErrorPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("error payload decode failed: %v", err)
	}
	if p.Code != types.CodeInvalidEvent {
		t.Errorf("error code = %s, want INVALID_EVENT", p.Code)
	}

	// The server closes the socket after the protocol violation.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestPingPongOverWire(t *testing.T) {
	srv := newTestServer(t)
	ws := dial(t, srv)

	sendEvent(t, ws, types.EventConnect, types.ConnectPayload{UserID: "alice"})
	readUntil(t, ws, types.EventConnectionEstablished)

	sendEvent(t, ws, types.EventPing, nil)
	pong := readUntil(t, ws, types.EventPong)

	var p types.PongPayload
	if err := json.Unmarshal(pong.Data, &p); err != nil {
		t.Fatalf("pong payload decode failed: %v", err)
	}
	if p.Timestamp == "" {
		t.Error("pong timestamp empty")
	}
}

func TestRejectedOriginGetsErrorEvent(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.AllowedOrigins = []string{"https://app.example"}
	c := core.New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)
	srv := httptest.NewServer(NewHandler(c, cfg.WebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := map[string][]string{"Origin": {"https://evil.example"}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	sendEvent(t, ws, types.EventConnect, types.ConnectPayload{UserID: "alice"})

	ev := readUntil(t, ws, types.EventError)
	var p types.ErrorPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("error payload decode failed: %v", err)
	}
	if p.Code != types.CodeInvalidOrigin {
		t.Errorf("error code = %s, want INVALID_ORIGIN", p.Code)
	}
}

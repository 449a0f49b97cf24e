package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collabhub/internal/config"
	"collabhub/internal/core"
	"collabhub/pkg/types"
)

// Handler upgrades HTTP requests and speaks the event protocol with
// the messaging core.
type Handler struct {
	core     *core.Core
	cfg      *config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewHandler(c *core.Core, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		core: c,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			// Origin is validated after the upgrade so the client gets
			// a structured error event instead of a bare HTTP 403.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request, waits for the connect frame, runs
// the handshake, then pumps events until the socket closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}

	conn := NewConnection(ws, h.cfg.BufferSize, h.cfg.WriteTimeout, h.cfg.PingInterval)

	ws.SetReadLimit(64 * 1024)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	client, err := h.handshake(ws, conn, r)
	if err != nil {
		// An error event was already written; let it flush.
		_ = conn.Close()
		<-conn.Done()
		return
	}
	defer func() {
		h.core.Disconnect(client)
		_ = conn.Close()
	}()

	h.readLoop(ws, conn, client)
}

// handshake reads the first frame, which must be a connect event, and
// runs it through the core.
func (h *Handler) handshake(ws *websocket.Conn, conn *Connection, r *http.Request) (*core.Client, error) {
	ev, err := readEvent(ws)
	if err != nil {
		return nil, err
	}
	if ev.Type != types.EventConnect {
		writeErrorEvent(conn, types.CodeInvalidEvent, "first event must be connect")
		return nil, core.ErrUnknownEvent
	}

	var creds types.ConnectPayload
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &creds); err != nil {
			writeErrorEvent(conn, types.CodeMissingData, "malformed connect payload")
			return nil, err
		}
	}

	return h.core.Connect(conn, r.Header.Get("Origin"), creds, r.RemoteAddr, r.UserAgent())
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Connection, client *core.Client) {
	for {
		ev, err := readEvent(ws)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read failed: socket=%s err=%v", conn.SocketID(), err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		h.core.HandleEvent(client, ev)
	}
}

func readEvent(ws *websocket.Conn) (*types.Event, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func writeErrorEvent(conn *Connection, code, message string) {
	ev, err := types.NewEvent(types.EventError, "", "", types.ErrorPayload{Message: message, Code: code})
	if err != nil {
		return
	}
	_ = conn.WriteJSON(ev)
}

// Package core orchestrates the collaboration protocol: it owns the
// connect handshake, routes client events through rate limiting and
// authorization to their handlers, and fans broadcasts out to room
// members.
package core

import (
	"log"
	"time"

	"github.com/google/uuid"

	"collabhub/internal/config"
	"collabhub/internal/connection"
	"collabhub/internal/presence"
	"collabhub/internal/queue"
	"collabhub/internal/ratelimit"
	"collabhub/internal/room"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// historyReplayLimit caps the messages replayed in a join ack;
// roomInfoHistoryLimit caps the tail returned by get_room_info.
const (
	historyReplayLimit   = 50
	roomInfoHistoryLimit = 20
)

// Client is the per-socket identity established by the connect
// handshake. The transport layer holds one per open socket and passes
// it back with every event.
type Client struct {
	SocketID string
	UserID   string
	Name     string
	Email    string
	Admin    bool

	sender interfaces.Sender
}

// Core wires the registries together. All methods are safe for
// concurrent use; each collaborator guards its own state.
type Core struct {
	cfg         *config.Config
	connections *connection.Registry
	rooms       *room.Registry
	presence    *presence.Tracker
	limiter     *ratelimit.Limiter
	offline     *queue.OfflineQueue
	auth        interfaces.Authenticator

	// Optional collaborators; nil disables the concern.
	sink        interfaces.EventSink
	broadcaster interfaces.Broadcaster
}

func New(cfg *config.Config, auth interfaces.Authenticator, sink interfaces.EventSink, broadcaster interfaces.Broadcaster) *Core {
	return &Core{
		cfg:         cfg,
		connections: connection.NewRegistry(),
		rooms:       room.NewRegistry(cfg.Rooms.HistorySize),
		presence:    presence.NewTracker(),
		limiter:     ratelimit.NewLimiter(cfg.RateLimits),
		offline:     queue.NewOfflineQueue(cfg.Queue.MaxPerUser),
		auth:        auth,
		sink:        sink,
		broadcaster: broadcaster,
	}
}

// Connect runs the handshake for a new socket: origin check, credential
// check, connection rate limit, then registration. On success the
// connection_established ack has already been written to the sender.
// On failure an error event has been written and the caller must close
// the transport.
func (c *Core) Connect(sender interfaces.Sender, origin string, creds types.ConnectPayload, ip, userAgent string) (*Client, error) {
	if !c.auth.CheckOriginAllowed(origin) {
		c.sendError(sender, types.CodeInvalidOrigin, "origin not allowed", 0)
		return nil, interfaces.ErrOriginNotAllowed
	}

	profile, err := c.auth.Authenticate(creds)
	if err != nil {
		c.sendError(sender, types.CodeAuthFailed, "authentication failed", 0)
		return nil, err
	}

	if ok, retry := c.limiter.CheckAndConsume(profile.UserID, ratelimit.ClassConnection); !ok {
		c.sendError(sender, types.CodeRateLimit, "too many connection attempts", retry)
		return nil, ErrRateLimited
	}

	socketID := uuid.NewString()
	c.connections.Add(socketID, profile.UserID, ip, userAgent, sender)

	client := &Client{
		SocketID: socketID,
		UserID:   profile.UserID,
		Name:     profile.Name,
		Email:    profile.Email,
		Admin:    profile.Admin,
		sender:   sender,
	}

	c.send(sender, types.EventConnectionEstablished, "", profile.UserID, types.ConnectionEstablishedPayload{
		UserID:         profile.UserID,
		SocketID:       socketID,
		AvailableRooms: c.rooms.ListRooms(profile.UserID),
	})

	log.Printf("client connected: user=%s socket=%s ip=%s", profile.UserID, socketID, ip)
	return client, nil
}

// Disconnect tears down a socket: it leaves every joined room, releases
// the user's locks in rooms they fully left and notifies the remaining
// members. Idempotent.
func (c *Core) Disconnect(client *Client) {
	if client == nil {
		return
	}
	conn, lastSocket := c.connections.Remove(client.SocketID)
	if conn == nil {
		return
	}

	dropped := c.rooms.DropSocket(client.UserID, client.SocketID)
	for _, d := range dropped {
		c.presence.ClearUser(d.RoomID, client.UserID)
		c.notifyUserLeft(d.RoomID, client.UserID, d.RemainingUsers, d.ReleasedLocks)
		if c.sink != nil {
			c.sink.RecordRoomEvent("left", d.RoomID, client.UserID)
		}
	}
	if lastSocket {
		c.presence.ClearUserEverywhere(client.UserID)
	}

	log.Printf("client disconnected: user=%s socket=%s rooms_left=%d", client.UserID, client.SocketID, len(dropped))
}

// notifyUserLeft broadcasts the departure and any lock releases caused
// by it.
func (c *Core) notifyUserLeft(roomID, userID string, remaining int, released []types.ResourceLock) {
	c.broadcast(roomID, types.EventUserLeft, userID, types.UserLeftPayload{
		UserID:         userID,
		RoomID:         roomID,
		RemainingUsers: remaining,
	}, userID, "")
	for _, lock := range released {
		c.broadcast(roomID, types.EventResourceUnlocked, userID, types.ResourceUnlockedPayload{
			ResourceType: lock.ResourceType,
			ResourceID:   lock.ResourceID,
			UnlockedBy:   userID,
		}, "", "")
	}
}

// broadcast fans an event out to every member of the room, skipping
// excludeUser entirely and excludeSocket for the remaining members.
// Write failures are logged and skipped; one dead socket never blocks
// the rest of the room. The event is also published to the pub/sub
// bridge when one is wired.
func (c *Core) broadcast(roomID string, t types.EventType, fromUser string, payload any, excludeUser, excludeSocket string) {
	ev, err := types.NewEvent(t, roomID, fromUser, payload)
	if err != nil {
		log.Printf("broadcast marshal failed: room=%s event=%s err=%v", roomID, t, err)
		return
	}
	c.fanOut(ev, excludeUser, excludeSocket)
	if c.broadcaster != nil {
		c.broadcaster.Publish(ev)
	}
}

func (c *Core) fanOut(ev *types.Event, excludeUser, excludeSocket string) {
	for _, userID := range c.rooms.MemberIDs(ev.RoomID) {
		if userID == excludeUser {
			continue
		}
		for _, conn := range c.connections.UserConnections(userID) {
			if conn.SocketID == excludeSocket {
				continue
			}
			if err := conn.Sender.WriteJSON(ev); err != nil {
				log.Printf("broadcast write failed: room=%s event=%s socket=%s err=%v", ev.RoomID, ev.Type, conn.SocketID, err)
			}
		}
	}
}

// DeliverRemote replays a broadcast received from another process into
// the local fan-out path. It is never re-published.
func (c *Core) DeliverRemote(ev *types.Event) {
	c.fanOut(ev, "", "")
}

// send writes a single event to one socket.
func (c *Core) send(sender interfaces.Sender, t types.EventType, roomID, userID string, payload any) {
	ev, err := types.NewEvent(t, roomID, userID, payload)
	if err != nil {
		log.Printf("send marshal failed: event=%s err=%v", t, err)
		return
	}
	if err := sender.WriteJSON(ev); err != nil {
		log.Printf("send failed: event=%s socket=%s err=%v", t, sender.SocketID(), err)
	}
}

func (c *Core) sendError(sender interfaces.Sender, code, message string, retryAfter int) {
	c.send(sender, types.EventError, "", "", types.ErrorPayload{
		Message:    message,
		Code:       code,
		RetryAfter: retryAfter,
	})
}

// SweepIdleConnections disconnects sockets silent past the configured
// idle timeout.
func (c *Core) SweepIdleConnections() int {
	idle := c.connections.SweepIdle(c.cfg.Connections.IdleTimeout)
	for _, conn := range idle {
		log.Printf("closing idle connection: user=%s socket=%s", conn.UserID, conn.SocketID)
		client := &Client{SocketID: conn.SocketID, UserID: conn.UserID, sender: conn.Sender}
		c.Disconnect(client)
		_ = conn.Sender.Close()
	}
	return len(idle)
}

// SweepRooms deletes rooms that stayed empty and unlocked past the
// configured TTL and drops their presence state.
func (c *Core) SweepRooms() int {
	deleted := c.rooms.Sweep(c.cfg.Rooms.IdleTTL)
	for _, roomID := range deleted {
		c.presence.ClearRoom(roomID)
		if c.sink != nil {
			c.sink.RecordRoomEvent("swept", roomID, "")
		}
		log.Printf("swept idle room: room=%s", roomID)
	}
	return len(deleted)
}

// CleanupLimiter drops rate-limit state that can no longer affect a
// decision.
func (c *Core) CleanupLimiter() {
	c.limiter.Cleanup()
}

// Stats assembles counters for the stats endpoint.
func (c *Core) Stats() map[string]any {
	conns, users := c.connections.Stats()
	rooms, members := c.rooms.Stats()
	queueUsers, queueMessages, queueDropped := c.offline.Stats()
	windows, bursts := c.limiter.Stats()
	return map[string]any{
		"connections":            conns,
		"online_users":           users,
		"rooms":                  rooms,
		"room_members":           members,
		"queued_users":           queueUsers,
		"queued_messages":        queueMessages,
		"queue_dropped":          queueDropped,
		"rate_limit_windows":     windows,
		"rate_limit_burst_users": bursts,
		"timestamp":              time.Now().UTC().Format(time.RFC3339),
	}
}

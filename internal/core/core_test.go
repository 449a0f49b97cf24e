package core

import (
	"encoding/json"
	"sync"
	"testing"

	"collabhub/internal/auth"
	"collabhub/internal/config"
	"collabhub/pkg/types"
)

type fakeSender struct {
	mu     sync.Mutex
	id     string
	events []*types.Event
	closed bool
}

func (s *fakeSender) SocketID() string { return s.id }

func (s *fakeSender) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := v.(*types.Event); ok {
		s.events = append(s.events, ev)
	}
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) ofType(t types.EventType) []*types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *fakeSender) lastError(t *testing.T) types.ErrorPayload {
	t.Helper()
	errs := s.ofType(types.EventError)
	if len(errs) == 0 {
		t.Fatal("no error event received")
	}
	var p types.ErrorPayload
	if err := json.Unmarshal(errs[len(errs)-1].Data, &p); err != nil {
		t.Fatalf("error payload did not decode: %v", err)
	}
	return p
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := config.DefaultConfig()
	return New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)
}

func connect(t *testing.T, c *Core, userID string) (*Client, *fakeSender) {
	t.Helper()
	sender := &fakeSender{id: "fake-" + userID}
	client, err := c.Connect(sender, "", types.ConnectPayload{UserID: userID}, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("Connect(%s) failed: %v", userID, err)
	}
	sender.id = client.SocketID
	return client, sender
}

func event(t *testing.T, eventType types.EventType, payload any) *types.Event {
	t.Helper()
	ev, err := types.NewEvent(eventType, "", "", payload)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	return ev
}

func join(t *testing.T, c *Core, client *Client, roomID string) {
	t.Helper()
	c.HandleEvent(client, event(t, types.EventJoinRoom, types.JoinRoomPayload{RoomID: roomID}))
}

func sendMessage(t *testing.T, c *Core, client *Client, roomID, content string) {
	t.Helper()
	c.HandleEvent(client, event(t, types.EventSendMessage, types.SendMessagePayload{RoomID: roomID, Content: content}))
}

func TestConnectHandshake(t *testing.T) {
	c := newTestCore(t)
	client, sender := connect(t, c, "alice")

	acks := sender.ofType(types.EventConnectionEstablished)
	if len(acks) != 1 {
		t.Fatalf("connection_established count = %d, want 1", len(acks))
	}
	var p types.ConnectionEstablishedPayload
	if err := json.Unmarshal(acks[0].Data, &p); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if p.UserID != "alice" || p.SocketID != client.SocketID {
		t.Errorf("handshake payload = %+v", p)
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.AllowAnonymous = false
	cfg.Auth.Tokens = []config.TokenEntry{{Token: "good", UserID: "alice", Name: "Alice"}}
	c := New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)

	sender := &fakeSender{id: "s1"}
	if _, err := c.Connect(sender, "", types.ConnectPayload{Token: "bad"}, "", ""); err == nil {
		t.Fatal("bad token accepted")
	}
	if p := sender.lastError(t); p.Code != types.CodeAuthFailed {
		t.Errorf("error code = %s, want AUTH_FAILED", p.Code)
	}
}

func TestConnectRejectsBadOrigin(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.AllowedOrigins = []string{"https://app.example"}
	c := New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)

	sender := &fakeSender{id: "s1"}
	if _, err := c.Connect(sender, "https://evil.example", types.ConnectPayload{UserID: "alice"}, "", ""); err == nil {
		t.Fatal("bad origin accepted")
	}
	if p := sender.lastError(t); p.Code != types.CodeInvalidOrigin {
		t.Errorf("error code = %s, want INVALID_ORIGIN", p.Code)
	}
}

func TestJoinBroadcastAndMessageFanout(t *testing.T) {
	c := newTestCore(t)
	alice, aliceSender := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")

	join(t, c, alice, "chat_general")
	join(t, c, bob, "chat_general")

	// Alice was already in the room, so she hears about Bob.
	if joined := aliceSender.ofType(types.EventUserJoined); len(joined) != 1 {
		t.Errorf("alice saw %d user_joined events, want 1", len(joined))
	}
	// Bob must not receive his own join notice.
	if joined := bobSender.ofType(types.EventUserJoined); len(joined) != 0 {
		t.Errorf("bob saw %d user_joined events, want 0", len(joined))
	}

	sendMessage(t, c, alice, "chat_general", "hello")

	if acks := aliceSender.ofType(types.EventMessageSent); len(acks) != 1 {
		t.Errorf("alice got %d message_sent acks, want 1", len(acks))
	}
	received := bobSender.ofType(types.EventMessageReceived)
	if len(received) != 1 {
		t.Fatalf("bob got %d message_received, want 1", len(received))
	}
	var p types.MessageReceivedPayload
	if err := json.Unmarshal(received[0].Data, &p); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if p.Message.Content != "hello" || p.Message.UserID != "alice" || p.Queued {
		t.Errorf("message payload = %+v", p)
	}
	// The emitting socket does not get its own message back.
	if got := aliceSender.ofType(types.EventMessageReceived); len(got) != 0 {
		t.Errorf("alice got %d message_received, want 0", len(got))
	}
}

func TestSenderOtherTabsReceiveMessage(t *testing.T) {
	c := newTestCore(t)
	tab1, _ := connect(t, c, "alice")
	tab2, tab2Sender := connect(t, c, "alice")

	join(t, c, tab1, "chat_general")
	join(t, c, tab2, "chat_general")

	sendMessage(t, c, tab1, "chat_general", "from tab one")

	if got := tab2Sender.ofType(types.EventMessageReceived); len(got) != 1 {
		t.Errorf("second tab got %d message_received, want 1", len(got))
	}
}

func TestSendRequiresMembership(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")
	join(t, c, alice, "chat_general")

	sendMessage(t, c, bob, "chat_general", "sneaky")
	if p := bobSender.lastError(t); p.Code != types.CodeAccessDenied {
		t.Errorf("error code = %s, want ACCESS_DENIED", p.Code)
	}
}

func TestOfflineQueueDeliveredOnRejoin(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	bob, _ := connect(t, c, "bob")
	join(t, c, alice, "chat_general")
	join(t, c, bob, "chat_general")

	c.Disconnect(bob)

	sendMessage(t, c, alice, "chat_general", "first while away")
	sendMessage(t, c, alice, "chat_general", "second while away")

	bob2, bob2Sender := connect(t, c, "bob")
	join(t, c, bob2, "chat_general")

	received := bob2Sender.ofType(types.EventMessageReceived)
	if len(received) != 2 {
		t.Fatalf("bob got %d queued messages, want 2", len(received))
	}
	var first, second types.MessageReceivedPayload
	json.Unmarshal(received[0].Data, &first)
	json.Unmarshal(received[1].Data, &second)
	if !first.Queued || !second.Queued {
		t.Error("replayed messages not marked queued")
	}
	if first.Message.Content != "first while away" || second.Message.Content != "second while away" {
		t.Errorf("queued order wrong: %q then %q", first.Message.Content, second.Message.Content)
	}

	// Delivery is at most once.
	join(t, c, bob2, "chat_general")
	if again := bob2Sender.ofType(types.EventMessageReceived); len(again) != 2 {
		t.Errorf("after rejoin bob has %d message_received, want still 2", len(again))
	}
}

func TestMessageRateLimit(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")
	join(t, c, alice, "chat_general")

	limit := c.cfg.RateLimits.Message.Limit
	for i := 0; i <= limit; i++ {
		sendMessage(t, c, alice, "chat_general", "spam")
	}

	if acks := sender.ofType(types.EventMessageSent); len(acks) != limit {
		t.Errorf("message_sent count = %d, want %d", len(acks), limit)
	}
	p := sender.lastError(t)
	if p.Code != types.CodeRateLimit {
		t.Errorf("error code = %s, want RATE_LIMIT", p.Code)
	}
	if p.RetryAfter <= 0 {
		t.Errorf("retry_after = %d, want positive", p.RetryAfter)
	}
}

func TestLockContentionAndAdminOverride(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Tokens = []config.TokenEntry{{Token: "admin-tok", UserID: "root", Name: "Root", Admin: true}}
	c := New(cfg, auth.NewTokenAuthenticator(cfg.Auth), nil, nil)

	alice, _ := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")
	join(t, c, alice, "planning_s1")
	join(t, c, bob, "planning_s1")

	lock := types.LockPayload{SessionID: "s1", ResourceType: "activity", ResourceID: "42"}
	c.HandleEvent(alice, event(t, types.EventLockResource, lock))

	if got := bobSender.ofType(types.EventResourceLocked); len(got) != 1 {
		t.Fatalf("bob saw %d resource_locked, want 1", len(got))
	}

	c.HandleEvent(bob, event(t, types.EventLockResource, lock))
	failed := bobSender.ofType(types.EventResourceLockFailed)
	if len(failed) != 1 {
		t.Fatalf("bob saw %d resource_lock_failed, want 1", len(failed))
	}
	var fp types.ResourceLockFailedPayload
	json.Unmarshal(failed[0].Data, &fp)
	if fp.LockedBy != "alice" {
		t.Errorf("lock holder = %s, want alice", fp.LockedBy)
	}

	// Bob cannot release Alice's lock.
	c.HandleEvent(bob, event(t, types.EventUnlockResource, lock))
	if p := bobSender.lastError(t); p.Code != types.CodeUnlockDenied {
		t.Errorf("error code = %s, want UNLOCK_DENIED", p.Code)
	}

	// A platform admin can.
	adminSender := &fakeSender{id: "admin"}
	admin, err := c.Connect(adminSender, "", types.ConnectPayload{Token: "admin-tok"}, "", "")
	if err != nil {
		t.Fatalf("admin connect failed: %v", err)
	}
	join(t, c, admin, "planning_s1")
	c.HandleEvent(admin, event(t, types.EventUnlockResource, lock))

	if got := bobSender.ofType(types.EventResourceUnlocked); len(got) != 1 {
		t.Errorf("bob saw %d resource_unlocked, want 1", len(got))
	}
}

func TestConcurrentLockSingleWinner(t *testing.T) {
	c := newTestCore(t)

	clients := make([]*Client, 8)
	senders := make([]*fakeSender, 8)
	for i := range clients {
		userID := string(rune('a'+i)) + "-user"
		clients[i], senders[i] = connect(t, c, userID)
		join(t, c, clients[i], "planning_race")
	}

	var wg sync.WaitGroup
	for i := range clients {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.HandleEvent(clients[n], event(t, types.EventLockResource, types.LockPayload{
				SessionID: "race", ResourceType: "activity", ResourceID: "1",
			}))
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, s := range senders {
		failures += len(s.ofType(types.EventResourceLockFailed))
	}
	if failures != len(clients)-1 {
		t.Errorf("lock failures = %d, want %d", failures, len(clients)-1)
	}
}

func TestDisconnectCascade(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")
	join(t, c, alice, "planning_s1")
	join(t, c, bob, "planning_s1")

	c.HandleEvent(alice, event(t, types.EventLockResource, types.LockPayload{
		SessionID: "s1", ResourceType: "activity", ResourceID: "7",
	}))

	c.Disconnect(alice)

	if got := bobSender.ofType(types.EventUserLeft); len(got) != 1 {
		t.Errorf("bob saw %d user_left, want 1", len(got))
	}
	if got := bobSender.ofType(types.EventResourceUnlocked); len(got) != 1 {
		t.Errorf("bob saw %d resource_unlocked, want 1", len(got))
	}
	if c.connections.IsUserOnline("alice") {
		t.Error("alice should be offline")
	}

	// Disconnect is idempotent.
	c.Disconnect(alice)
}

func TestTypingFanout(t *testing.T) {
	c := newTestCore(t)
	alice, aliceSender := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")
	join(t, c, alice, "chat_general")
	join(t, c, bob, "chat_general")

	c.HandleEvent(alice, event(t, types.EventTypingStart, types.TypingPayload{RoomID: "chat_general"}))

	got := bobSender.ofType(types.EventTypingStart)
	if len(got) != 1 {
		t.Fatalf("bob saw %d typing_start, want 1", len(got))
	}
	var p types.TypingEventPayload
	json.Unmarshal(got[0].Data, &p)
	if len(p.TypingUsers) != 1 || p.TypingUsers[0] != "alice" {
		t.Errorf("typing users = %v, want [alice]", p.TypingUsers)
	}
	if got := aliceSender.ofType(types.EventTypingStart); len(got) != 0 {
		t.Errorf("alice saw her own typing event")
	}

	c.HandleEvent(alice, event(t, types.EventTypingStop, types.TypingPayload{RoomID: "chat_general"}))
	stop := bobSender.ofType(types.EventTypingStop)
	if len(stop) != 1 {
		t.Fatalf("bob saw %d typing_stop, want 1", len(stop))
	}
}

func TestCursorRequiresCoordinates(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")
	join(t, c, alice, "planning_s1")

	c.HandleEvent(alice, event(t, types.EventCursorMoved, types.CursorPayload{RoomID: "planning_s1"}))
	if p := sender.lastError(t); p.Code != types.CodeMissingData {
		t.Errorf("error code = %s, want MISSING_DATA", p.Code)
	}
}

func TestPlanUpdateOutsideSession(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")

	c.HandleEvent(alice, event(t, types.EventPlanUpdated, types.PlanUpdatePayload{
		SessionID: "s1", Operation: "update", TargetType: "activity", TargetID: "1",
	}))
	if p := sender.lastError(t); p.Code != types.CodeNotInSession {
		t.Errorf("error code = %s, want NOT_IN_SESSION", p.Code)
	}
}

func TestPlanUpdateRequiresWritePermission(t *testing.T) {
	c := newTestCore(t)
	alice, aliceSender := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")

	// A private planning session: members hold exactly what an admin
	// granted them.
	if _, err := c.rooms.Create("planning_locked", "", types.RoomTypePrivate, "alice", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := c.rooms.Grant("planning_locked", "bob", types.PermRead); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	join(t, c, alice, "planning_locked")
	join(t, c, bob, "planning_locked")

	update := types.PlanUpdatePayload{SessionID: "locked", Operation: "update", TargetType: "activity", TargetID: "1"}

	c.HandleEvent(bob, event(t, types.EventPlanUpdated, update))
	if p := bobSender.lastError(t); p.Code != types.CodeNoWritePermission {
		t.Errorf("error code = %s, want NO_WRITE_PERMISSION", p.Code)
	}
	if acks := bobSender.ofType(types.EventPlanUpdateProcessed); len(acks) != 0 {
		t.Errorf("bob got %d plan_update_processed acks, want 0", len(acks))
	}
	if got := aliceSender.ofType(types.EventPlanUpdated); len(got) != 0 {
		t.Errorf("alice saw %d plan_updated broadcasts from a read-only member, want 0", len(got))
	}

	// The room admin can still edit.
	c.HandleEvent(alice, event(t, types.EventPlanUpdated, update))
	if acks := aliceSender.ofType(types.EventPlanUpdateProcessed); len(acks) != 1 {
		t.Errorf("alice got %d plan_update_processed acks, want 1", len(acks))
	}
	if got := bobSender.ofType(types.EventPlanUpdated); len(got) != 1 {
		t.Errorf("bob saw %d plan_updated broadcasts, want 1", len(got))
	}
}

func TestRoomInfoRequiresReadPermission(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	mallory, mallorySender := connect(t, c, "mallory")

	if _, err := c.rooms.Create("secret", "", types.RoomTypePrivate, "alice", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	join(t, c, alice, "secret")
	sendMessage(t, c, alice, "secret", "for members only")

	c.HandleEvent(mallory, event(t, types.EventGetRoomInfo, types.GetRoomInfoPayload{RoomID: "secret"}))
	if p := mallorySender.lastError(t); p.Code != types.CodeAccessDenied {
		t.Errorf("error code = %s, want ACCESS_DENIED", p.Code)
	}
	if got := mallorySender.ofType(types.EventRoomInfo); len(got) != 0 {
		t.Fatalf("mallory received %d room_info events, want 0", len(got))
	}

	// A read grant is enough, membership is not required.
	bob, bobSender := connect(t, c, "bob")
	if err := c.rooms.Grant("secret", "bob", types.PermRead); err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	c.HandleEvent(bob, event(t, types.EventGetRoomInfo, types.GetRoomInfoPayload{RoomID: "secret"}))
	infos := bobSender.ofType(types.EventRoomInfo)
	if len(infos) != 1 {
		t.Fatalf("bob received %d room_info events, want 1", len(infos))
	}
	var p types.RoomInfoPayload
	if err := json.Unmarshal(infos[0].Data, &p); err != nil {
		t.Fatalf("room_info payload decode failed: %v", err)
	}
	if len(p.MessageHistory) != 1 || p.MessageHistory[0].Content != "for members only" {
		t.Errorf("history = %v", p.MessageHistory)
	}

	// Unknown rooms still report ROOM_NOT_FOUND, not a permission error.
	c.HandleEvent(mallory, event(t, types.EventGetRoomInfo, types.GetRoomInfoPayload{RoomID: "chat_nowhere"}))
	if p := mallorySender.lastError(t); p.Code != types.CodeRoomNotFound {
		t.Errorf("error code = %s, want ROOM_NOT_FOUND", p.Code)
	}
}

func TestCursorBroadcastMatchesStoredPosition(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	bob, bobSender := connect(t, c, "bob")
	join(t, c, alice, "planning_s1")
	join(t, c, bob, "planning_s1")

	x, y := 10.5, 20.25
	c.HandleEvent(alice, event(t, types.EventCursorMoved, types.CursorPayload{RoomID: "planning_s1", X: &x, Y: &y}))

	got := bobSender.ofType(types.EventCursorMoved)
	if len(got) != 1 {
		t.Fatalf("bob saw %d cursor_moved, want 1", len(got))
	}
	var p types.CursorEventPayload
	if err := json.Unmarshal(got[0].Data, &p); err != nil {
		t.Fatalf("cursor payload decode failed: %v", err)
	}

	stored := c.presence.Cursors("planning_s1")
	if len(stored) != 1 {
		t.Fatalf("stored cursors = %d, want 1", len(stored))
	}
	if !p.Cursor.Timestamp.Equal(stored[0].Timestamp) {
		t.Errorf("broadcast timestamp %v != stored timestamp %v", p.Cursor.Timestamp, stored[0].Timestamp)
	}
	if p.Cursor.X != stored[0].X || p.Cursor.Y != stored[0].Y {
		t.Errorf("broadcast cursor %+v != stored %+v", p.Cursor, stored[0])
	}
}

func TestUnknownRoomRequiresKnownPrefix(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")

	join(t, c, alice, "randomroom")
	if p := sender.lastError(t); p.Code != types.CodeRoomNotFound {
		t.Errorf("error code = %s, want ROOM_NOT_FOUND", p.Code)
	}
}

func TestUnknownEventType(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")

	c.HandleEvent(alice, &types.Event{Type: "teleport"})
	if p := sender.lastError(t); p.Code != types.CodeInvalidEvent {
		t.Errorf("error code = %s, want INVALID_EVENT", p.Code)
	}
}

func TestPingPong(t *testing.T) {
	c := newTestCore(t)
	alice, sender := connect(t, c, "alice")

	c.HandleEvent(alice, event(t, types.EventPing, nil))
	if got := sender.ofType(types.EventPong); len(got) != 1 {
		t.Errorf("pong count = %d, want 1", len(got))
	}
}

func TestSweepRoomsKeepsOccupied(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	join(t, c, alice, "chat_general")

	if swept := c.SweepRooms(); swept != 0 {
		t.Errorf("swept %d rooms, want 0", swept)
	}
}

func TestStats(t *testing.T) {
	c := newTestCore(t)
	alice, _ := connect(t, c, "alice")
	join(t, c, alice, "chat_general")

	stats := c.Stats()
	if stats["connections"] != 1 || stats["rooms"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

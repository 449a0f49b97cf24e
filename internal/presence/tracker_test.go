package presence

import (
	"reflect"
	"testing"

	"collabhub/pkg/types"
)

func TestTypingLifecycle(t *testing.T) {
	tr := NewTracker()

	users := tr.SetTyping("chat_1", "bob", true)
	if !reflect.DeepEqual(users, []string{"bob"}) {
		t.Errorf("typing users = %v, want [bob]", users)
	}

	users = tr.SetTyping("chat_1", "alice", true)
	if !reflect.DeepEqual(users, []string{"alice", "bob"}) {
		t.Errorf("typing users = %v, want sorted [alice bob]", users)
	}

	// Repeated start is a refresh, not a duplicate.
	users = tr.SetTyping("chat_1", "bob", true)
	if len(users) != 2 {
		t.Errorf("typing users after refresh = %v", users)
	}

	users = tr.SetTyping("chat_1", "bob", false)
	if !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("typing users after stop = %v, want [alice]", users)
	}

	// Stop without start is a no-op.
	if users = tr.SetTyping("chat_1", "carol", false); !reflect.DeepEqual(users, []string{"alice"}) {
		t.Errorf("typing users = %v, want [alice]", users)
	}
}

func TestCursorOverwrite(t *testing.T) {
	tr := NewTracker()
	tr.SetCursor(types.CursorPosition{RoomID: "planning_1", UserID: "alice", X: 1, Y: 2})
	stored := tr.SetCursor(types.CursorPosition{RoomID: "planning_1", UserID: "alice", X: 3, Y: 4})

	cursors := tr.Cursors("planning_1")
	if len(cursors) != 1 {
		t.Fatalf("cursor count = %d, want 1", len(cursors))
	}
	if cursors[0].X != 3 || cursors[0].Y != 4 {
		t.Errorf("cursor = %+v, want latest position", cursors[0])
	}
	if cursors[0].Timestamp.IsZero() {
		t.Error("cursor timestamp not stamped")
	}
	// The returned record is the stored one, timestamp and all.
	if !stored.Timestamp.Equal(cursors[0].Timestamp) || stored.X != cursors[0].X {
		t.Errorf("SetCursor returned %+v, stored %+v", stored, cursors[0])
	}
}

func TestClearUser(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("chat_1", "alice", true)
	tr.SetCursor(types.CursorPosition{RoomID: "chat_1", UserID: "alice"})
	tr.SetTyping("chat_2", "alice", true)

	tr.ClearUser("chat_1", "alice")
	if users := tr.TypingUsers("chat_1"); len(users) != 0 {
		t.Errorf("chat_1 typing = %v after clear", users)
	}
	if users := tr.TypingUsers("chat_2"); len(users) != 1 {
		t.Errorf("chat_2 typing = %v, should be untouched", users)
	}

	tr.ClearUserEverywhere("alice")
	if users := tr.TypingUsers("chat_2"); len(users) != 0 {
		t.Errorf("chat_2 typing = %v after disconnect clear", users)
	}
}

func TestClearRoom(t *testing.T) {
	tr := NewTracker()
	tr.SetTyping("chat_1", "alice", true)
	tr.SetCursor(types.CursorPosition{RoomID: "chat_1", UserID: "bob"})

	tr.ClearRoom("chat_1")
	if len(tr.TypingUsers("chat_1")) != 0 || len(tr.Cursors("chat_1")) != 0 {
		t.Error("room presence not cleared")
	}
}

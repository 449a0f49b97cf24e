// Package database persists chat messages and room lifecycle events to
// SQLite for audit and history beyond the in-memory ring.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"collabhub/internal/config"
	"collabhub/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL,
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, created_at);

CREATE TABLE IF NOT EXISTS room_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	event      TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	user_id    TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events(room_id, created_at);
`

// Sink writes records through a single goroutine; SQLite performs best
// with one writer. Record calls never block the broadcast path: when
// the buffer is full the record is dropped and counted.
type Sink struct {
	db       *sql.DB
	writeCh  chan func(*sql.DB) error
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

func NewSink(cfg *config.DatabaseConfig) (*Sink, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Sink{
		db:       db,
		writeCh:  make(chan func(*sql.DB) error, 256),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			if err := op(s.db); err != nil {
				log.Printf("database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				if err := op(s.db); err != nil {
					log.Printf("database write failed after retry: %v", err)
				}
			}
		case <-s.shutdown:
			// Drain what is already queued before exiting.
			for {
				select {
				case op := <-s.writeCh:
					if err := op(s.db); err != nil {
						log.Printf("database write failed during shutdown: %v", err)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) submit(op func(*sql.DB) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.writeCh <- op:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// RecordMessage persists a chat message asynchronously.
func (s *Sink) RecordMessage(msg *types.ChatMessage) {
	m := *msg
	s.submit(func(db *sql.DB) error {
		var metadata any
		if len(m.Metadata) > 0 {
			data, err := json.Marshal(m.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadata = string(data)
		}
		_, err := db.Exec(
			`INSERT OR IGNORE INTO messages (id, room_id, user_id, content, message_type, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.RoomID, m.UserID, m.Content, string(m.Type), metadata, m.Timestamp,
		)
		return err
	})
}

// RecordRoomEvent persists a room lifecycle event (created, joined,
// left, swept) asynchronously.
func (s *Sink) RecordRoomEvent(event, roomID, userID string) {
	now := time.Now()
	s.submit(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO room_events (event, room_id, user_id, created_at) VALUES (?, ?, ?, ?)`,
			event, roomID, userID, now,
		)
		return err
	})
}

// Dropped returns how many records were discarded due to backpressure.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the writer and closes the database.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
	return s.db.Close()
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

const sqliteColumns = `id, sender_id, receiver_id, content, type, timestamp, seen`

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, wrapErr("open", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("open", err)
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("init_schema", err)
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_messages (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT UNIQUE NOT NULL,
		sender_id   INTEGER NOT NULL,
		receiver_id INTEGER,
		content     TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL CHECK(type IN ('CHAT','JOIN','LEAVE')),
		timestamp   TEXT NOT NULL,
		seen        INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_unseen
	ON chat_messages (receiver_id, seen, sender_id);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_pair
	ON chat_messages (sender_id, receiver_id);

	CREATE INDEX IF NOT EXISTS idx_chat_messages_type
	ON chat_messages (type);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.db.PingContext(ctx))
}

// Insert stores msg under a new ULID.
func (s *SQLiteStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	defer observe("insert", time.Now())
	if err := checkInsert(msg); err != nil {
		return models.Message{}, err
	}

	msg.ID = newID()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, sender_id, receiver_id, content, type, timestamp, seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Type), models.FormatTimestamp(msg.Timestamp), boolToInt(msg.Seen))
	if err != nil {
		return models.Message{}, wrapErr("insert", err)
	}
	return msg, nil
}

// MarkSeen flips every unseen sender->receiver message to seen in one statement.
func (s *SQLiteStore) MarkSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	defer observe("mark_seen", time.Now())
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_messages SET seen = 1
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0
	`, senderID, receiverID)
	if err != nil {
		return 0, wrapErr("mark_seen", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("mark_seen", err)
	}
	return n, nil
}

// FindConversation returns messages exchanged between userA and userB in either direction.
func (s *SQLiteStore) FindConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	return s.query(ctx, "find_conversation", `
		SELECT `+sqliteColumns+` FROM chat_messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY seq ASC
	`, userA, userB, userB, userA)
}

// FindBySender returns messages sent by senderID.
func (s *SQLiteStore) FindBySender(ctx context.Context, senderID int64) ([]models.Message, error) {
	return s.query(ctx, "find_by_sender", `
		SELECT `+sqliteColumns+` FROM chat_messages WHERE sender_id = ? ORDER BY seq ASC
	`, senderID)
}

// FindByReceiver returns messages addressed to receiverID.
func (s *SQLiteStore) FindByReceiver(ctx context.Context, receiverID int64) ([]models.Message, error) {
	return s.query(ctx, "find_by_receiver", `
		SELECT `+sqliteColumns+` FROM chat_messages WHERE receiver_id = ? ORDER BY seq ASC
	`, receiverID)
}

// FindByType returns messages of type t.
func (s *SQLiteStore) FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error) {
	return s.query(ctx, "find_by_type", `
		SELECT `+sqliteColumns+` FROM chat_messages WHERE type = ? ORDER BY seq ASC
	`, string(t))
}

// FindParticipants returns the sender/receiver pair of every message touching userID.
func (s *SQLiteStore) FindParticipants(ctx context.Context, userID int64) ([]models.Participants, error) {
	defer observe("find_participants", time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id, receiver_id FROM chat_messages
		WHERE sender_id = ? OR receiver_id = ?
		ORDER BY seq ASC
	`, userID, userID)
	if err != nil {
		return nil, wrapErr("find_participants", err)
	}
	defer rows.Close()

	out := make([]models.Participants, 0)
	for rows.Next() {
		var p models.Participants
		var receiver sql.NullInt64
		if err := rows.Scan(&p.SenderID, &receiver); err != nil {
			return nil, wrapErr("find_participants", err)
		}
		if receiver.Valid {
			p.ReceiverID = models.Int64(receiver.Int64)
		}
		out = append(out, p)
	}
	return out, wrapErr("find_participants", rows.Err())
}

// CountUnseenForReceiver counts unseen messages addressed to receiverID.
func (s *SQLiteStore) CountUnseenForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	defer observe("count_unseen", time.Now())
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE receiver_id = ? AND seen = 0
	`, receiverID).Scan(&count)
	return count, wrapErr("count_unseen", err)
}

// CountUnseenGroupedBySender counts unseen messages addressed to receiverID per sender.
func (s *SQLiteStore) CountUnseenGroupedBySender(ctx context.Context, receiverID int64) ([]models.SenderUnreadCount, error) {
	defer observe("count_unseen_by_sender", time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_id, COUNT(*) FROM chat_messages
		WHERE receiver_id = ? AND seen = 0
		GROUP BY sender_id
		ORDER BY MIN(seq)
	`, receiverID)
	if err != nil {
		return nil, wrapErr("count_unseen_by_sender", err)
	}
	defer rows.Close()

	out := make([]models.SenderUnreadCount, 0)
	for rows.Next() {
		var c models.SenderUnreadCount
		if err := rows.Scan(&c.SenderID, &c.Count); err != nil {
			return nil, wrapErr("count_unseen_by_sender", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("count_unseen_by_sender", rows.Err())
}

// Count returns the total number of stored messages.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&count)
	return count, wrapErr("count", err)
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]models.Message, error) {
	defer observe(op, time.Now())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg      models.Message
			receiver sql.NullInt64
			msgType  string
			ts       string
			seen     int
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &receiver, &msg.Content, &msgType, &ts, &seen); err != nil {
			return nil, wrapErr(op, err)
		}
		if receiver.Valid {
			msg.ReceiverID = models.Int64(receiver.Int64)
		}
		msg.Type = models.MessageType(msgType)
		msg.Seen = seen == 1
		if msg.Timestamp, err = models.ParseTimestamp(ts); err != nil {
			return nil, wrapErr(op, fmt.Errorf("parse timestamp of %s: %w", msg.ID, err))
		}
		out = append(out, msg)
	}
	return out, wrapErr(op, rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

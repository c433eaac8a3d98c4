package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

const pgColumns = `id, sender_id, receiver_id, content, type, timestamp, seen`

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, wrapErr("open", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapErr("open", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// RunMigrations applies all pending schema migrations embedded in the binary.
func RunMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("could not open db for migration: %w", err)
	}
	defer db.Close()

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create migrate driver: %w", err)
	}

	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("could not open migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not apply migrations: %w", err)
	}

	return nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.pool.Ping(ctx))
}

// Insert stores msg under a new ULID.
func (s *PostgresStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	defer observe("insert", time.Now())
	if err := checkInsert(msg); err != nil {
		return models.Message{}, err
	}

	msg.ID = newID()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (id, sender_id, receiver_id, content, type, timestamp, seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, string(msg.Type), msg.Timestamp.UTC(), msg.Seen)
	if err != nil {
		return models.Message{}, wrapErr("insert", err)
	}
	return msg, nil
}

// MarkSeen flips every unseen sender->receiver message to seen in one statement.
func (s *PostgresStore) MarkSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	defer observe("mark_seen", time.Now())
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_messages SET seen = TRUE
		WHERE sender_id = $1 AND receiver_id = $2 AND seen = FALSE
	`, senderID, receiverID)
	if err != nil {
		return 0, wrapErr("mark_seen", err)
	}
	return tag.RowsAffected(), nil
}

// FindConversation returns messages exchanged between userA and userB in either direction.
func (s *PostgresStore) FindConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	return s.query(ctx, "find_conversation", `
		SELECT `+pgColumns+` FROM chat_messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY seq ASC
	`, userA, userB)
}

// FindBySender returns messages sent by senderID.
func (s *PostgresStore) FindBySender(ctx context.Context, senderID int64) ([]models.Message, error) {
	return s.query(ctx, "find_by_sender", `
		SELECT `+pgColumns+` FROM chat_messages WHERE sender_id = $1 ORDER BY seq ASC
	`, senderID)
}

// FindByReceiver returns messages addressed to receiverID.
func (s *PostgresStore) FindByReceiver(ctx context.Context, receiverID int64) ([]models.Message, error) {
	return s.query(ctx, "find_by_receiver", `
		SELECT `+pgColumns+` FROM chat_messages WHERE receiver_id = $1 ORDER BY seq ASC
	`, receiverID)
}

// FindByType returns messages of type t.
func (s *PostgresStore) FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error) {
	return s.query(ctx, "find_by_type", `
		SELECT `+pgColumns+` FROM chat_messages WHERE type = $1 ORDER BY seq ASC
	`, string(t))
}

// FindParticipants returns the sender/receiver pair of every message touching userID.
func (s *PostgresStore) FindParticipants(ctx context.Context, userID int64) ([]models.Participants, error) {
	defer observe("find_participants", time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT sender_id, receiver_id FROM chat_messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, wrapErr("find_participants", err)
	}
	defer rows.Close()

	out := make([]models.Participants, 0)
	for rows.Next() {
		var p models.Participants
		if err := rows.Scan(&p.SenderID, &p.ReceiverID); err != nil {
			return nil, wrapErr("find_participants", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("find_participants", rows.Err())
}

// CountUnseenForReceiver counts unseen messages addressed to receiverID.
func (s *PostgresStore) CountUnseenForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	defer observe("count_unseen", time.Now())
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM chat_messages WHERE receiver_id = $1 AND seen = FALSE
	`, receiverID).Scan(&count)
	return count, wrapErr("count_unseen", err)
}

// CountUnseenGroupedBySender counts unseen messages addressed to receiverID per sender.
func (s *PostgresStore) CountUnseenGroupedBySender(ctx context.Context, receiverID int64) ([]models.SenderUnreadCount, error) {
	defer observe("count_unseen_by_sender", time.Now())
	rows, err := s.pool.Query(ctx, `
		SELECT sender_id, COUNT(*) FROM chat_messages
		WHERE receiver_id = $1 AND seen = FALSE
		GROUP BY sender_id
		ORDER BY MIN(seq)
	`, receiverID)
	if err != nil {
		return nil, wrapErr("count_unseen_by_sender", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SenderUnreadCount, error) {
		var c models.SenderUnreadCount
		err := row.Scan(&c.SenderID, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, wrapErr("count_unseen_by_sender", err)
	}
	if out == nil {
		out = []models.SenderUnreadCount{}
	}
	return out, nil
}

// Count returns the total number of stored messages.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&count)
	return count, wrapErr("count", err)
}

func (s *PostgresStore) query(ctx context.Context, op, query string, args ...any) ([]models.Message, error) {
	defer observe(op, time.Now())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	out := make([]models.Message, 0)
	for rows.Next() {
		var (
			msg     models.Message
			msgType string
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msgType, &msg.Timestamp, &msg.Seen); err != nil {
			return nil, wrapErr(op, err)
		}
		msg.Type = models.MessageType(msgType)
		msg.Timestamp = models.NormalizeTimestamp(msg.Timestamp)
		out = append(out, msg)
	}
	return out, wrapErr(op, rows.Err())
}

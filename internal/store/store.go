package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// MessageStore defines persistent storage of chat messages.
// MemoryStore, SQLiteStore, PostgresStore and MongoStore implement this interface.
type MessageStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Writes
	Insert(ctx context.Context, msg models.Message) (models.Message, error)
	MarkSeen(ctx context.Context, senderID, receiverID int64) (int64, error)

	// Point and predicate queries, in storage order
	FindConversation(ctx context.Context, userA, userB int64) ([]models.Message, error)
	FindBySender(ctx context.Context, senderID int64) ([]models.Message, error)
	FindByReceiver(ctx context.Context, receiverID int64) ([]models.Message, error)
	FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error)
	FindParticipants(ctx context.Context, userID int64) ([]models.Participants, error)

	// Aggregates
	CountUnseenForReceiver(ctx context.Context, receiverID int64) (int64, error)
	CountUnseenGroupedBySender(ctx context.Context, receiverID int64) ([]models.SenderUnreadCount, error)
	Count(ctx context.Context) (int64, error)
}

// ErrUnavailable is wrapped by StorageError when a store is closed or not configured.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotPersistable is returned by Insert for messages that must never be
// stored. It is a caller error, not a StorageError.
var ErrNotPersistable = errors.New("message not persistable")

// StorageError reports a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// wrapErr returns nil for a nil err, otherwise a *StorageError for op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// newID returns a time-ordered identifier for backends that do not assign their own.
func newID() string {
	return ulid.Make().String()
}

// observe records the latency of a store operation.
func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// checkInsert rejects messages that must never reach a store.
func checkInsert(msg models.Message) error {
	if !msg.Type.Valid() {
		return fmt.Errorf("%w: invalid message type %q", ErrNotPersistable, msg.Type)
	}
	if !msg.Type.Persistent() {
		return fmt.Errorf("%w: message type %s is transient", ErrNotPersistable, msg.Type)
	}
	if msg.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrNotPersistable)
	}
	return nil
}

package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

const messageCollection = "chat_messages"

// mongoMessage is the document form of a message.
type mongoMessage struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	SenderID   int64              `bson:"senderId"`
	ReceiverID *int64             `bson:"receiverId,omitempty"`
	Content    string             `bson:"content"`
	Type       string             `bson:"type"`
	Timestamp  time.Time          `bson:"timestamp"`
	Seen       bool               `bson:"seen"`
}

func (d mongoMessage) model() models.Message {
	return models.Message{
		ID:         d.ID.Hex(),
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Content:    d.Content,
		Type:       models.MessageType(d.Type),
		Timestamp:  models.NormalizeTimestamp(d.Timestamp),
		Seen:       d.Seen,
	}
}

// MongoStore keeps messages in a MongoDB collection.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and ensures the collection indexes exist.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = "chat"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, wrapErr("open", fmt.Errorf("failed to connect to mongo: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapErr("open", fmt.Errorf("failed to ping mongo: %w", err))
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(messageCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapErr("init_schema", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "seen", Value: 1}, {Key: "senderId", Value: 1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}}},
		{Keys: bson.D{{Key: "type", Value: 1}}},
	})
	return err
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks the connection to the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	return wrapErr("ping", s.client.Ping(ctx, nil))
}

// Insert stores msg; MongoDB assigns the ObjectID.
func (s *MongoStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	defer observe("insert", time.Now())
	if err := checkInsert(msg); err != nil {
		return models.Message{}, err
	}

	doc := mongoMessage{
		ID:         primitive.NewObjectID(),
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Type:       string(msg.Type),
		Timestamp:  msg.Timestamp.UTC(),
		Seen:       msg.Seen,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return models.Message{}, wrapErr("insert", err)
	}
	msg.ID = doc.ID.Hex()
	return msg, nil
}

// MarkSeen flips every unseen sender->receiver message to seen with a single UpdateMany.
func (s *MongoStore) MarkSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	defer observe("mark_seen", time.Now())
	res, err := s.coll.UpdateMany(ctx,
		bson.M{"senderId": senderID, "receiverId": receiverID, "seen": false},
		bson.M{"$set": bson.M{"seen": true}},
	)
	if err != nil {
		return 0, wrapErr("mark_seen", err)
	}
	return res.ModifiedCount, nil
}

// FindConversation returns messages exchanged between userA and userB in either direction.
func (s *MongoStore) FindConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	return s.find(ctx, "find_conversation", bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}})
}

// FindBySender returns messages sent by senderID.
func (s *MongoStore) FindBySender(ctx context.Context, senderID int64) ([]models.Message, error) {
	return s.find(ctx, "find_by_sender", bson.M{"senderId": senderID})
}

// FindByReceiver returns messages addressed to receiverID.
func (s *MongoStore) FindByReceiver(ctx context.Context, receiverID int64) ([]models.Message, error) {
	return s.find(ctx, "find_by_receiver", bson.M{"receiverId": receiverID})
}

// FindByType returns messages of type t.
func (s *MongoStore) FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error) {
	return s.find(ctx, "find_by_type", bson.M{"type": string(t)})
}

// FindParticipants returns the sender/receiver pair of every message touching userID.
func (s *MongoStore) FindParticipants(ctx context.Context, userID int64) ([]models.Participants, error) {
	defer observe("find_participants", time.Now())
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.M{"senderId": 1, "receiverId": 1})
	cursor, err := s.coll.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"receiverId": userID},
	}}, opts)
	if err != nil {
		return nil, wrapErr("find_participants", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr("find_participants", err)
	}
	out := make([]models.Participants, len(docs))
	for i, d := range docs {
		out[i] = models.Participants{SenderID: d.SenderID, ReceiverID: d.ReceiverID}
	}
	return out, nil
}

// CountUnseenForReceiver counts unseen messages addressed to receiverID.
func (s *MongoStore) CountUnseenForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	defer observe("count_unseen", time.Now())
	n, err := s.coll.CountDocuments(ctx, bson.M{"receiverId": receiverID, "seen": false})
	return n, wrapErr("count_unseen", err)
}

// CountUnseenGroupedBySender counts unseen messages addressed to receiverID per sender.
func (s *MongoStore) CountUnseenGroupedBySender(ctx context.Context, receiverID int64) ([]models.SenderUnreadCount, error) {
	defer observe("count_unseen_by_sender", time.Now())
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"receiverId": receiverID, "seen": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$senderId",
			"count": bson.M{"$sum": 1},
			"first": bson.M{"$min": "$_id"},
		}}},
		{{Key: "$sort", Value: bson.M{"first": 1}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapErr("count_unseen_by_sender", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		SenderID int64 `bson:"_id"`
		Count    int64 `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, wrapErr("count_unseen_by_sender", err)
	}
	out := make([]models.SenderUnreadCount, len(rows))
	for i, r := range rows {
		out[i] = models.SenderUnreadCount{SenderID: r.SenderID, Count: r.Count}
	}
	return out, nil
}

// Count returns the total number of stored messages.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{})
	return n, wrapErr("count", err)
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M) ([]models.Message, error) {
	defer observe(op, time.Now())
	cursor, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer cursor.Close(ctx)

	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapErr(op, err)
	}
	out := make([]models.Message, len(docs))
	for i, d := range docs {
		out[i] = d.model()
	}
	return out, nil
}

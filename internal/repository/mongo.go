package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathima-sithara/message-service/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const opTimeout = 3 * time.Second

type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, coll *mongo.Collection) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "receiver_id", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("conversation_created_idx"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("receiver_status_idx"),
		},
		{
			Keys:    bson.D{{Key: "delivery_batch", Value: 1}},
			Options: options.Index().SetName("delivery_batch_idx").SetSparse(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

func (r *MongoStore) Create(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	m.Normalize()
	_, err := r.coll.InsertOne(ctx, m)
	return err
}

func (r *MongoStore) FindByID(ctx context.Context, id string) (*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var m domain.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.Normalize()
	return &m, nil
}

func (r *MongoStore) FindByIDs(ctx context.Context, ids []string) (map[string]*domain.Message, error) {
	out := make(map[string]*domain.Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	msgs, err := r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, nil)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

func (r *MongoStore) FindConversation(ctx context.Context, a, b string) ([]*domain.Message, error) {
	filter := bson.M{"$or": []bson.M{
		{"sender_id": a, "receiver_id": b},
		{"sender_id": b, "receiver_id": a},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return r.find(ctx, filter, opts)
}

// MarkDelivered issues one conditional UpdateMany and tags the matched documents with
// a fresh batch token, so concurrent callers each read back only their own winners.
func (r *MongoStore) MarkDelivered(ctx context.Context, ids []string, receiverID string, at time.Time) ([]*domain.Message, error) {
	if len(ids) == 0 {
		return []*domain.Message{}, nil
	}
	batch := uuid.NewString()

	uctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateMany(uctx,
		bson.M{
			"_id":         bson.M{"$in": ids},
			"receiver_id": receiverID,
			"status":      domain.StatusSent,
		},
		bson.M{"$set": bson.M{
			"status":         domain.StatusDelivered,
			"delivered_at":   at,
			"updated_at":     at,
			"delivery_batch": batch,
		}},
	)
	if err != nil {
		return nil, err
	}
	if res.ModifiedCount == 0 {
		return []*domain.Message{}, nil
	}
	return r.find(ctx, bson.M{"delivery_batch": batch}, nil)
}

func (r *MongoStore) MarkSeen(ctx context.Context, id string, at time.Time) (*domain.Message, bool, error) {
	uctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "status", Value: domain.StatusSeen},
		{Key: "seen_at", Value: at},
		{Key: "updated_at", Value: at},
		{Key: "delivered_at", Value: bson.D{{Key: "$ifNull", Value: bson.A{"$delivered_at", at}}}},
	}}}}
	var m domain.Message
	err := r.coll.FindOneAndUpdate(uctx,
		bson.M{"_id": id, "status": bson.M{"$ne": domain.StatusSeen}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		m.Normalize()
		return &m, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	cur, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

func (r *MongoStore) ApplyEdit(ctx context.Context, id string, version int64, text string, entry domain.EditEntry, at time.Time) (*domain.Message, error) {
	return r.versionedUpdate(ctx, id, version, bson.M{
		"$push": bson.M{"edit_history": entry},
		"$set":  bson.M{"text": text, "is_edited": true, "updated_at": at},
		"$inc":  bson.M{"version": 1},
	})
}

func (r *MongoStore) ReplaceReactions(ctx context.Context, id string, version int64, reactions domain.Reactions, at time.Time) (*domain.Message, error) {
	if reactions == nil {
		reactions = domain.Reactions{}
	}
	return r.versionedUpdate(ctx, id, version, bson.M{
		"$set": bson.M{"reactions": reactions, "updated_at": at},
		"$inc": bson.M{"version": 1},
	})
}

func (r *MongoStore) MarkDeletedForEveryone(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{"is_deleted": true, "updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoStore) HideFor(ctx context.Context, id, userID string, at time.Time) error {
	uctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	res, err := r.coll.UpdateOne(uctx,
		bson.M{"_id": id, "deleted_for": bson.M{"$ne": userID}},
		bson.M{
			"$addToSet": bson.M{"deleted_for": userID},
			"$set":      bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	// either already hidden or absent
	_, err = r.FindByID(ctx, id)
	return err
}

func (r *MongoStore) versionedUpdate(ctx context.Context, id string, version int64, update bson.M) (*domain.Message, error) {
	uctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	var m domain.Message
	err := r.coll.FindOneAndUpdate(uctx,
		bson.M{"_id": id, "version": version},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		m.Normalize()
		return &m, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	if _, err := r.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}

func (r *MongoStore) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var cur *mongo.Cursor
	var err error
	if opts != nil {
		cur, err = r.coll.Find(ctx, filter, opts)
	} else {
		cur, err = r.coll.Find(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		m.Normalize()
		out = append(out, &m)
	}
	return out, cur.Err()
}

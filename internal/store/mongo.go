package store

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultMongoDatabase is used when Options.Database is empty.
const DefaultMongoDatabase = "taskflow"

const mongoOpTimeout = 5 * time.Second

// Mongo keeps records and audit entries in their own collections, with
// integer ids drawn from a counters collection.
type Mongo struct {
	client   *mongo.Client
	tasks    *mongo.Collection
	audit    *mongo.Collection
	counters *mongo.Collection
}

var _ Store = (*Mongo)(nil)

func openMongo(ctx context.Context, opts Options) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.DSN))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return NewMongo(client, opts.Database), nil
}

// NewMongo takes ownership of client. dbName defaults to DefaultMongoDatabase.
func NewMongo(client *mongo.Client, dbName string) *Mongo {
	if dbName == "" {
		dbName = DefaultMongoDatabase
	}
	db := client.Database(dbName)
	return &Mongo{
		client:   client,
		tasks:    db.Collection("tasks"),
		audit:    db.Collection("message_log"),
		counters: db.Collection("counters"),
	}
}

func (m *Mongo) nextID(ctx context.Context, name string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	return counter.Seq, err
}

func (m *Mongo) Create(ctx context.Context) (WorkRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id, err := m.nextID(ctx, "tasks")
	if err != nil {
		return WorkRecord{}, err
	}
	rec := WorkRecord{ID: id, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	if _, err := m.tasks.InsertOne(ctx, rec); err != nil {
		return WorkRecord{}, err
	}
	return rec, nil
}

func (m *Mongo) Find(ctx context.Context, id int64) (WorkRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var rec WorkRecord
	err := m.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return WorkRecord{}, notFound(id)
	}
	if err != nil {
		return WorkRecord{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.CompletedAt != nil {
		at := rec.CompletedAt.UTC()
		rec.CompletedAt = &at
	}
	return rec, nil
}

func (m *Mongo) Commit(ctx context.Context, id int64, result string, completedAt time.Time) (WorkRecord, error) {
	updateCtx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.tasks.UpdateOne(updateCtx,
		bson.M{"_id": id, "completed_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"result": result, "completed_at": completedAt.UTC()}},
	)
	if err != nil {
		return WorkRecord{}, err
	}
	return m.Find(ctx, id)
}

func (m *Mongo) Append(ctx context.Context, message string) (AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	id, err := m.nextID(ctx, "message_log")
	if err != nil {
		return AuditEntry{}, err
	}
	entry := AuditEntry{ID: id, Message: message, CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	if _, err := m.audit.InsertOne(ctx, entry); err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}

func (m *Mongo) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cur, err := m.audit.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(normalizeLimit(limit))))
	if err != nil {
		return nil, err
	}
	entries := []AuditEntry{}
	if err := cur.All(ctx, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].CreatedAt = entries[i].CreatedAt.UTC()
	}
	return entries, nil
}

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}

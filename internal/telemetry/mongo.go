package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const duplicateKeyCode = 11000

// MongoWriter inserts documents into a MongoDB collection.
type MongoWriter struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// DialMongo connects, pings the primary and returns a writer for db.coll.
func DialMongo(ctx context.Context, uri, db, coll string) (*MongoWriter, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoWriter{client: client, coll: client.Database(db).Collection(coll)}, nil
}

// NewMongoWriter wraps an existing collection. Close is then a no-op.
func NewMongoWriter(coll *mongo.Collection) *MongoWriter {
	return &MongoWriter{coll: coll}
}

// Write inserts docs unordered. Ids are assigned once per document so a
// retried batch collides on _id instead of duplicating rows; a batch whose
// only failures are duplicate keys counts as stored.
func (w *MongoWriter) Write(ctx context.Context, docs []Document) error {
	items := make([]any, len(docs))
	for i := range docs {
		if docs[i].ID.IsZero() {
			docs[i].ID = primitive.NewObjectID()
		}
		items[i] = docs[i]
	}

	_, err := w.coll.InsertMany(ctx, items, options.InsertMany().SetOrdered(false))
	if err == nil || onlyDuplicates(err) {
		return nil
	}
	return &SinkError{Kind: KindTransport, Err: err}
}

func (w *MongoWriter) Close(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	return w.client.Disconnect(ctx)
}

func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return false
		}
	}
	return true
}

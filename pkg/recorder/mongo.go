package recorder

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taskfleet/dispatch/pkg/coordinator"
)

// MongoSink upserts run reports into a MongoDB collection, one document per
// run keyed by "<play>_<runID>".
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoSink(uri, dbName, collName string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoSink{
		client:     client,
		collection: client.Database(dbName).Collection(collName),
	}, nil
}

// Save upserts the report document.
func (m *MongoSink) Save(ctx context.Context, report *coordinator.RunReport) error {
	if report == nil {
		return fmt.Errorf("report must not be nil")
	}
	docID := fmt.Sprintf("%s_%s", report.Play, report.RunID)

	data, err := bson.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	doc := bson.M{"_id": docID}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal report into document: %w", err)
	}
	doc["_id"] = docID

	_, err = m.collection.ReplaceOne(ctx,
		bson.M{"_id": docID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", docID, err)
	}
	return nil
}

func (m *MongoSink) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

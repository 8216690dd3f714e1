package journal

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoJournal stores one document per event.
type MongoJournal struct {
	client *mongo.Client
	coll   inserter
}

func NewMongoJournal(ctx context.Context, uri, dbName, collName string) (*MongoJournal, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return &MongoJournal{
		client: client,
		coll:   client.Database(dbName).Collection(collName),
	}, nil
}

func (m *MongoJournal) Record(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()
	if _, err := m.coll.InsertOne(ctx, ev); err != nil {
		return fmt.Errorf("MongoDB InsertOne failed: %w", err)
	}
	return nil
}

func (m *MongoJournal) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

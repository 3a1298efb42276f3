package events

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditCollection receives one document per ledger event.
const AuditCollection = "ledger_events"

// MongoAudit appends events to a MongoDB collection as an audit trail.
type MongoAudit struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoAudit(ctx context.Context, uri, database string) (*MongoAudit, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoAudit{client: client, coll: client.Database(database).Collection(AuditCollection)}, nil
}

func (m *MongoAudit) Publish(ctx context.Context, evs ...Event) error {
	if len(evs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(evs))
	for i, ev := range evs {
		docs[i] = ev
	}
	if _, err := m.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert audit events: %w", err)
	}
	return nil
}

func (m *MongoAudit) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

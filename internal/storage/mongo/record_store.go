// Package mongo stores each session's final records as one MongoDB document.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

// Config names the connection and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
}

type sessionDoc struct {
	SessionID string           `bson:"_id"`
	Records   []crawler.Record `bson:"records"`
	Count     int              `bson:"count"`
	SavedAt   time.Time        `bson:"saved_at"`
}

// RecordStore implements crawler.RecordStore on a mongo collection.
type RecordStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// Connect dials the server and pings it.
func Connect(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.URI == "" || cfg.Database == "" || cfg.Collection == "" {
		return nil, fmt.Errorf("mongo uri, database and collection are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := NewRecordStore(client.Database(cfg.Database).Collection(cfg.Collection))
	store.client = client
	return store, nil
}

// NewRecordStore wraps an existing collection.
func NewRecordStore(coll *mongo.Collection) *RecordStore {
	return &RecordStore{coll: coll, now: time.Now}
}

// SaveRecords upserts the session document.
func (s *RecordStore) SaveRecords(ctx context.Context, sessionID string, records []crawler.Record) error {
	if sessionID == "" {
		return fmt.Errorf("save records: session id is required")
	}
	if records == nil {
		records = []crawler.Record{}
	}
	doc := sessionDoc{
		SessionID: sessionID,
		Records:   records,
		Count:     len(records),
		SavedAt:   s.now().UTC(),
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": sessionID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save records %s: %w", sessionID, err)
	}
	return nil
}

// ListRecords returns the stored records. An unknown session yields an
// empty slice.
func (s *RecordStore) ListRecords(ctx context.Context, sessionID string) ([]crawler.Record, error) {
	var doc sessionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []crawler.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", sessionID, err)
	}
	if doc.Records == nil {
		doc.Records = []crawler.Record{}
	}
	return doc.Records, nil
}

// Close disconnects the client when the store dialed it.
func (s *RecordStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

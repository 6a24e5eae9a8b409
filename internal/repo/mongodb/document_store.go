package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ store.Store = (*DocumentStore)(nil)

// schemaCollection remembers which collections the host registered.
const schemaCollection = "_replica_collections"

type collectionSchema struct {
	Name         string `bson:"_id"`
	DeletedField string `bson:"deletedField,omitempty"`
}

// DocumentStore keeps each replicated collection in its own MongoDB
// collection. Unsynced local writes carry a write sequence in fieldPending.
type DocumentStore struct {
	db  *mongo.Database
	bus *bus.Bus
	seq atomic.Int64

	mu      sync.RWMutex
	schemas map[string]models.Schema
}

func NewDocumentStore(db *DB, b *bus.Bus) *DocumentStore {
	s := &DocumentStore{
		db:      db.Database,
		bus:     b,
		schemas: make(map[string]models.Schema),
	}
	s.seq.Store(time.Now().UnixNano())
	return s
}

// LoadCollections restores the registered collections after a restart.
func (s *DocumentStore) LoadCollections(ctx context.Context) error {
	cursor, err := s.db.Collection(schemaCollection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("find collections: %w", err)
	}
	var rows []collectionSchema
	if err := cursor.All(ctx, &rows); err != nil {
		return fmt.Errorf("cursor all: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.schemas[row.Name] = models.Schema{DeletedField: row.DeletedField}
	}
	return nil
}

func (s *DocumentStore) CreateCollection(ctx context.Context, name string, schema models.Schema) error {
	_, err := s.db.Collection(schemaCollection).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$set": bson.M{"deletedField": schema.DeletedField}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save collection %s: %w", name, err)
	}

	_, err = s.db.Collection(name).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: fieldPending, Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: models.FieldModifiedAt, Value: 1}, {Key: models.FieldID, Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes %s: %w", name, err)
	}

	s.mu.Lock()
	s.schemas[name] = schema
	s.mu.Unlock()
	return nil
}

func (s *DocumentStore) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[name]
	return ok
}

func (s *DocumentStore) collection(name string) (*mongo.Collection, models.Schema, error) {
	s.mu.RLock()
	schema, ok := s.schemas[name]
	s.mu.RUnlock()
	if !ok {
		return nil, models.Schema{}, fmt.Errorf("%w: %s", models.ErrUnknownCollection, name)
	}
	return s.db.Collection(name), schema, nil
}

func (s *DocumentStore) Insert(ctx context.Context, collection string, doc models.Document) error {
	if doc.ID() == "" {
		return models.ErrMissingID
	}
	coll, _, err := s.collection(collection)
	if err != nil {
		return err
	}
	if _, err := coll.InsertOne(ctx, toRecord(doc, s.seq.Add(1))); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert %s/%s: %w", collection, doc.ID(), models.ErrAlreadyExists)
		}
		return fmt.Errorf("insert one: %w", err)
	}
	s.publish(ctx, collection, bus.OpInsert, bus.OriginLocal, doc.Clone())
	return nil
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, m store.Mutation) (models.Document, error) {
	coll, _, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	var rec bson.M
	err = coll.FindOneAndUpdate(ctx,
		bson.M{fieldObjectID: id},
		buildUpdate(m, s.seq.Add(1)),
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("update %s/%s: %w", collection, id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find one and update: %w", err)
	}

	doc, _ := fromRecord(rec)
	s.publish(ctx, collection, bus.OpUpdate, bus.OriginLocal, doc)
	return doc.Clone(), nil
}

func (s *DocumentStore) FindOne(ctx context.Context, collection string, q store.Query) (models.Document, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, models.ErrNotFound
	}
	return docs[0], nil
}

func (s *DocumentStore) Find(ctx context.Context, collection string, q store.Query) ([]models.Document, error) {
	coll, schema, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(buildSort(q.Sort))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := coll.Find(ctx, buildFilter(q, schema), opts)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	var recs []bson.M
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("cursor all: %w", err)
	}

	docs := make([]models.Document, 0, len(recs))
	for _, rec := range recs {
		doc, _ := fromRecord(rec)
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *DocumentStore) ApplyCanonical(ctx context.Context, collection string, doc models.Document) (bool, error) {
	if doc.ID() == "" {
		return false, models.ErrMissingID
	}
	coll, _, err := s.collection(collection)
	if err != nil {
		return false, err
	}

	// An unsynced local copy makes the filter miss, and the upsert then
	// collides on _id.
	res, err := coll.ReplaceOne(ctx,
		bson.M{fieldObjectID: doc.ID(), fieldPending: bson.M{"$exists": false}},
		toRecord(doc, 0),
		options.Replace().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("replace one: %w", err)
	}

	op := bus.OpUpdate
	if res.UpsertedCount > 0 {
		op = bus.OpInsert
	}
	s.publish(ctx, collection, op, bus.OriginReplication, doc.Clone())
	return true, nil
}

func (s *DocumentStore) Settle(ctx context.Context, collection string, p store.Pending, doc models.Document) (bool, error) {
	coll, _, err := s.collection(collection)
	if err != nil {
		return false, err
	}
	res, err := coll.ReplaceOne(ctx,
		bson.M{fieldObjectID: p.Document.ID(), fieldPending: p.Seq},
		toRecord(doc, 0),
	)
	if err != nil {
		return false, fmt.Errorf("replace one: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}
	s.publish(ctx, collection, bus.OpUpdate, bus.OriginReplication, doc.Clone())
	return true, nil
}

func (s *DocumentStore) Unsynced(ctx context.Context, collection string, limit int) ([]store.Pending, error) {
	coll, _, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: fieldPending, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := coll.Find(ctx, bson.M{fieldPending: bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, fmt.Errorf("find unsynced: %w", err)
	}
	var recs []bson.M
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, fmt.Errorf("cursor all: %w", err)
	}

	out := make([]store.Pending, 0, len(recs))
	for _, rec := range recs {
		doc, seq := fromRecord(rec)
		out = append(out, store.Pending{Document: doc, Seq: seq})
	}
	return out, nil
}

func (s *DocumentStore) MarkSynced(ctx context.Context, collection string, pending []store.Pending) error {
	if len(pending) == 0 {
		return nil
	}
	coll, _, err := s.collection(collection)
	if err != nil {
		return err
	}

	writes := make([]mongo.WriteModel, 0, len(pending))
	for _, p := range pending {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{fieldObjectID: p.Document.ID(), fieldPending: p.Seq}).
			SetUpdate(bson.M{"$unset": bson.M{fieldPending: ""}}))
	}
	if _, err := coll.BulkWrite(ctx, writes); err != nil {
		return fmt.Errorf("bulk write: %w", err)
	}
	return nil
}

func (s *DocumentStore) publish(ctx context.Context, collection string, op bus.Operation, origin bus.Origin, doc models.Document) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(ctx, bus.ChangeEvent{
		Collection: collection,
		Operation:  op,
		Origin:     origin,
		Document:   doc,
	})
	if err != nil {
		log.Warnw(ctx, "Failed to publish change event", "collection", collection, "id", doc.ID(), "error", err)
	}
}

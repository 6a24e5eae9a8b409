package mongodb

import (
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	fieldObjectID = "_id"
	// fieldPending holds the write sequence of an unsynced local change.
	fieldPending = "_pendingSeq"
)

// toRecord maps a document onto its stored form, keyed by the document id.
func toRecord(doc models.Document, seq int64) bson.M {
	rec := make(bson.M, len(doc)+2)
	for k, v := range doc {
		rec[k] = v
	}
	rec[fieldObjectID] = doc.ID()
	if seq > 0 {
		rec[fieldPending] = seq
	}
	return rec
}

// fromRecord strips storage fields and normalizes driver types.
func fromRecord(rec bson.M) (models.Document, int64) {
	seq := int64Of(rec[fieldPending])
	doc := make(models.Document, len(rec))
	for k, v := range rec {
		if k == fieldObjectID || k == fieldPending {
			continue
		}
		doc[k] = v
	}
	return doc.Clone(), seq
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func buildFilter(q store.Query, schema models.Schema) bson.M {
	filter := bson.M{}
	for k, v := range q.Selector {
		filter[k] = v
	}
	if schema.DeletedField != "" {
		if _, ok := filter[schema.DeletedField]; !ok {
			filter[schema.DeletedField] = bson.M{"$ne": true}
		}
	}
	return filter
}

func buildSort(fields []store.SortField) bson.D {
	sort := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: f.Field, Value: dir})
	}
	return sort
}

func buildUpdate(m store.Mutation, seq int64) bson.M {
	set := bson.M{fieldPending: seq}
	for k, v := range m.Set {
		set[k] = v
	}
	update := bson.M{"$set": set}
	if len(m.Push) > 0 {
		push := bson.M{}
		for k, v := range m.Push {
			push[k] = v
		}
		update["$push"] = push
	}
	return update
}

// Package store defines the local document store the replication engine
// and the bot pipeline operate on.
package store

import (
	"context"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

type SortField struct {
	Field string
	Desc  bool
}

// Query matches documents whose top level fields equal every selector
// entry. Documents flagged by the collection's deleted field never match.
type Query struct {
	Selector map[string]any
	Sort     []SortField
	Limit    int
}

func ByID(id string) Query {
	return Query{Selector: map[string]any{models.FieldID: id}}
}

// Mutation is applied atomically: Set replaces fields, Push appends one
// value to each named array field.
type Mutation struct {
	Set  map[string]any
	Push map[string]any
}

// Pending is a locally written document not yet acknowledged by the
// canonical store. Seq changes on every local write to the document.
type Pending struct {
	Document models.Document
	Seq      int64
}

type Store interface {
	CreateCollection(ctx context.Context, name string, schema models.Schema) error
	HasCollection(name string) bool

	// Insert and Update are local writes: they mark the document unsynced.
	Insert(ctx context.Context, collection string, doc models.Document) error
	Update(ctx context.Context, collection, id string, m Mutation) (models.Document, error)

	FindOne(ctx context.Context, collection string, q Query) (models.Document, error)
	Find(ctx context.Context, collection string, q Query) ([]models.Document, error)

	// ApplyCanonical writes a canonical document by id unless a local change
	// to the same document is still unsynced, in which case it reports false.
	ApplyCanonical(ctx context.Context, collection string, doc models.Document) (bool, error)
	// Settle replaces an unsynced document with doc and clears its pending
	// mark, provided it was not written again since p was read.
	Settle(ctx context.Context, collection string, p Pending, doc models.Document) (bool, error)
	// Unsynced lists pending local writes in write order.
	Unsynced(ctx context.Context, collection string, limit int) ([]Pending, error)
	// MarkSynced clears the pending marks still matching their Seq.
	MarkSynced(ctx context.Context, collection string, pending []Pending) error
}

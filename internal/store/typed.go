package store

import (
	"context"
	"fmt"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
)

// Decode converts a document into a typed record.
func Decode[T any](doc models.Document) (*T, error) {
	out := new(T)
	if err := util.TranscodeJSON(doc, out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

// Encode converts a typed record into a document.
func Encode(v any) (models.Document, error) {
	doc := models.Document{}
	if err := util.TranscodeJSON(v, &doc); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return doc, nil
}

func FindOneAs[T any](ctx context.Context, st Store, collection string, q Query) (*T, error) {
	doc, err := st.FindOne(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return Decode[T](doc)
}

func FindAs[T any](ctx context.Context, st Store, collection string, q Query) ([]*T, error) {
	docs, err := st.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	return util.ConvertListE(docs, Decode[T])
}

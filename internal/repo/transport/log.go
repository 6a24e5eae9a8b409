// Package transport delivers push batches and checkpoints to the host that
// owns the canonical store.
package transport

import (
	"context"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

// Log only records deliveries. Useful when no host is attached.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (Log) DeliverChanges(ctx context.Context, collection string, docs []models.Document) error {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID()
	}
	log.Infow(ctx, "Deliver changes", "collection", collection, "ids", ids)
	return nil
}

func (Log) ReportCheckpoint(ctx context.Context, collection string, cp models.Checkpoint) error {
	log.Debugw(ctx, "Report checkpoint", "collection", collection, "checkpoint", cp)
	return nil
}

package replication

import (
	"context"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
)

// Transport carries push batches and checkpoint updates to the host that
// owns the canonical store. Delivery must be idempotent on the host side.
type Transport interface {
	DeliverChanges(ctx context.Context, collection string, docs []models.Document) error
	ReportCheckpoint(ctx context.Context, collection string, cp models.Checkpoint) error
}

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
)

// HTTP posts every TransportMessage as JSON to a host webhook.
type HTTP struct {
	client *resty.Client
	url    string
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	return &HTTP{
		client: util.NewRestyClient(timeout, 3),
		url:    url,
	}
}

func (h *HTTP) DeliverChanges(ctx context.Context, collection string, docs []models.Document) error {
	return h.send(ctx, models.TransportMessage{
		Type:           models.TransportMessageChanges,
		CollectionName: collection,
		ChangedDocs:    docs,
	})
}

func (h *HTTP) ReportCheckpoint(ctx context.Context, collection string, cp models.Checkpoint) error {
	return h.send(ctx, models.TransportMessage{
		Type:           models.TransportMessageCheckpoint,
		CollectionName: collection,
		Checkpoint:     &cp,
	})
}

func (h *HTTP) send(ctx context.Context, msg models.TransportMessage) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("post %s: %w", msg.Type, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: unexpected status code: %d", msg.Type, resp.StatusCode())
	}
	return nil
}

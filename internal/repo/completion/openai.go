// Package completion calls language-model completion services.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
)

// OpenAI speaks the chat completions wire format. Failed calls are not
// retried here; the triggering event records the failure instead.
type OpenAI struct {
	client *resty.Client
	url    string
	apiKey string
}

func NewOpenAI(url, apiKey string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		client: util.NewRestyClient(timeout, 0),
		url:    url,
		apiKey: apiKey,
	}
}

func (c *OpenAI) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	r := c.client.R().
		SetContext(ctx).
		SetHeader(models.TraceHeader, req.TraceID).
		SetBody(req).
		SetResult(&models.CompletionResponse{})
	if c.apiKey != "" {
		r.SetAuthToken(c.apiKey)
	}

	resp, err := r.Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("post completion: %w", err)
	}
	if resp.IsError() {
		return nil, parseError(resp.StatusCode(), resp.Body())
	}

	out, ok := resp.Result().(*models.CompletionResponse)
	if !ok || len(out.Choices) == 0 {
		return nil, &models.CompletionError{StatusCode: resp.StatusCode(), Message: "malformed completion response: no choices"}
	}
	return out, nil
}

func parseError(status int, body []byte) error {
	cerr := &models.CompletionError{StatusCode: status}
	var payload models.CompletionErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		cerr.Message = payload.Error.Message
		if payload.Error.Code != nil {
			cerr.Code = fmt.Sprint(payload.Error.Code)
		}
	}
	return cerr
}

package completion

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	req := models.CompletionRequest{
		Model:       "gpt-4",
		Temperature: 0.7,
		TraceID:     "evt-1",
		Messages: []models.CompletionMessage{
			{Role: models.RoleSystem, Content: "You are a helpful assistant."},
			{Role: models.RoleUser, Content: "hi"},
		},
	}

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "evt-1", r.Header.Get(models.TraceHeader))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "gpt-4", body["model"])
			assert.InDelta(t, 0.7, body["temperature"], 0.0001)
			assert.Len(t, body["messages"], 2)
			assert.NotContains(t, body, "TraceID")

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
		}))
		defer srv.Close()

		resp, err := NewOpenAI(srv.URL, "secret", time.Second).Complete(t.Context(), req)
		require.NoError(t, err)
		content, ok := resp.Content()
		assert.True(t, ok)
		assert.Equal(t, "hello", content)
	})

	t.Run("error object", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`))
		}))
		defer srv.Close()

		_, err := NewOpenAI(srv.URL, "", time.Second).Complete(t.Context(), req)
		var cerr *models.CompletionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, http.StatusTooManyRequests, cerr.StatusCode)
		assert.Equal(t, "rate_limit_exceeded: slow down", err.Error())
		assert.EqualValues(t, 1, calls.Load(), "no automatic retry")
	})

	t.Run("status without body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := NewOpenAI(srv.URL, "", time.Second).Complete(t.Context(), req)
		require.Error(t, err)
		assert.Equal(t, "completion service returned status 502", err.Error())
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()

		_, err := NewOpenAI(srv.URL, "", time.Second).Complete(t.Context(), req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed")
	})
}

func TestToGenkitMessages(t *testing.T) {
	t.Parallel()

	out := toGenkitMessages([]models.CompletionMessage{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "q"},
		{Role: models.RoleAssistant, Content: "a"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, ai.RoleSystem, out[0].Role)
	assert.Equal(t, ai.RoleUser, out[1].Role)
	assert.Equal(t, ai.RoleModel, out[2].Role)
	assert.Equal(t, "a", out[2].Text())
}

func TestGenkitModelName(t *testing.T) {
	t.Parallel()

	g := &Genkit{defaultModel: "googleai/gemini-2.5-flash"}
	assert.Equal(t, "googleai/gemini-2.5-pro", g.modelName("googleai/gemini-2.5-pro"))
	assert.Equal(t, "googleai/gemini-2.5-flash", g.modelName("gpt-4"))
}

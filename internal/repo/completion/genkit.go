package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

const googleAIPrefix = "googleai/"

// Genkit sends completion requests through a Genkit model plugin.
// Requests naming a model the plugin does not serve fall back to
// defaultModel.
type Genkit struct {
	genkit       *genkit.Genkit
	defaultModel string
}

func NewGenkit(ctx context.Context, apiKey, defaultModel string) *Genkit {
	googleAI := &googlegenai.GoogleAI{
		APIKey: apiKey,
	}
	return &Genkit{
		genkit:       genkit.Init(ctx, genkit.WithPlugins(googleAI)),
		defaultModel: defaultModel,
	}
}

func (g *Genkit) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	messages := toGenkitMessages(req.Messages)
	model := g.modelName(req.Model)

	log.Debugw(ctx, "Generating completion", "model", model, "messages", len(messages), "trace_id", req.TraceID)
	resp, err := genkit.Generate(ctx, g.genkit,
		ai.WithMessages(messages...),
		ai.WithModelName(model),
		ai.WithConfig(&ai.GenerationCommonConfig{Temperature: req.Temperature}),
	)
	if err != nil {
		return nil, &models.CompletionError{Message: fmt.Sprintf("generate: %v", err)}
	}
	text := resp.Text()
	if text == "" {
		return nil, &models.CompletionError{Message: "malformed completion response: empty text"}
	}
	return &models.CompletionResponse{
		Choices: []models.CompletionChoice{{
			Message: models.CompletionMessage{Role: models.RoleAssistant, Content: text},
		}},
	}, nil
}

func (g *Genkit) modelName(model string) string {
	if strings.HasPrefix(model, googleAIPrefix) {
		return model
	}
	return g.defaultModel
}

func toGenkitMessages(in []models.CompletionMessage) []*ai.Message {
	out := make([]*ai.Message, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, ai.NewSystemTextMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, ai.NewModelTextMessage(m.Content))
		default:
			out = append(out, ai.NewUserTextMessage(m.Content))
		}
	}
	return out
}

package models

import "fmt"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TraceHeader carries the triggering event id on completion requests.
const TraceHeader = "x-correlation-id"

type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model       string              `json:"model"`
	Temperature float64             `json:"temperature"`
	Messages    []CompletionMessage `json:"messages"`

	TraceID string `json:"-"`
}

type CompletionChoice struct {
	Message CompletionMessage `json:"message"`
}

type CompletionResponse struct {
	Choices []CompletionChoice `json:"choices"`
}

// Content returns the text of the top choice.
func (r *CompletionResponse) Content() (string, bool) {
	if r == nil || len(r.Choices) == 0 {
		return "", false
	}
	return r.Choices[0].Message.Content, true
}

type CompletionErrorBody struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type CompletionErrorResponse struct {
	Error *CompletionErrorBody `json:"error"`
}

// CompletionError is a failed completion call. Its message is what gets
// recorded on the triggering event.
type CompletionError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *CompletionError) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message != "":
		return e.Message
	case e.StatusCode != 0:
		return fmt.Sprintf("completion service returned status %d", e.StatusCode)
	default:
		return "completion service error"
	}
}

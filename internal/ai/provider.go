package ai

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a single model reply. Confidence is set only when the backend reports
// enough signal to derive one, and is always in [0,1].
type Completion struct {
	Text       string
	Confidence *float64
}

type Provider interface {
	Chat(ctx context.Context, messages []Message) (Completion, error)
}

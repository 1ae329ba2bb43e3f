package chat

import "context"

// ContextTurn is one entry of the context window handed to the completion API.
type ContextTurn struct {
	Role Role
	Text string
}

type MessageReader interface {
	List(ctx context.Context, sessionID string) ([]Message, error)
}

// ContextAssembler builds completion context from a stored session log.
type ContextAssembler struct {
	messages MessageReader
}

func NewContextAssembler(messages MessageReader) *ContextAssembler {
	return &ContextAssembler{messages: messages}
}

// BuildContext returns the user and bot turns of the session in order. Admin
// interjections stay in the displayed log but never reach the model.
func (a *ContextAssembler) BuildContext(ctx context.Context, sessionID string) ([]ContextTurn, error) {
	msgs, err := a.messages.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return contextTurns(msgs), nil
}

func contextTurns(msgs []Message) []ContextTurn {
	turns := make([]ContextTurn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser, RoleBot:
			turns = append(turns, ContextTurn{Role: m.Role, Text: m.Text})
		}
	}
	return turns
}

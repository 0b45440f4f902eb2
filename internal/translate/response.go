package translate

import (
	"fmt"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
)

// StopReasonEndTurn is reported for every buffered reply. The backend's
// finish reason is not mapped back.
const StopReasonEndTurn = "end_turn"

// Response converts a buffered backend reply into the messages schema.
// Token counts are copied as reported.
func Response(out domain.ChatResponse) (*domain.MessagesResponse, error) {
	if out.ID == "" {
		return nil, fmt.Errorf("%w: backend response missing id", domain.ErrTranslation)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: backend response has no choices", domain.ErrTranslation)
	}
	if out.Usage == nil {
		return nil, fmt.Errorf("%w: backend response missing usage", domain.ErrTranslation)
	}

	first := out.Choices[0]
	if first.Message == nil {
		return nil, fmt.Errorf("%w: backend response choice has no message", domain.ErrTranslation)
	}

	return &domain.MessagesResponse{
		ID:   out.ID,
		Type: "message",
		Role: "assistant",
		Content: []domain.ContentBlock{
			{Type: "text", Text: first.Message.Content},
		},
		Model:      out.Model,
		StopReason: StopReasonEndTurn,
		Usage: domain.MessagesUsage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
		},
	}, nil
}

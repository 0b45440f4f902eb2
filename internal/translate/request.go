// Package translate maps between the messages wire schema accepted at the
// gateway and the chat-completions schema spoken by the backend.
package translate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
)

const (
	DefaultMaxTokens   = 8192
	DefaultTemperature = 1.0
)

type rawRequest struct {
	System      json.RawMessage       `json:"system"`
	Messages    []domain.InputMessage `json:"messages"`
	MaxTokens   *int                  `json:"max_tokens"`
	Temperature *float64              `json:"temperature"`
	Stream      *bool                 `json:"stream"`
}

var errContentShape = errors.New("expected a string or a list of content blocks")

// DecodeRequest parses an inbound request body. Message content must be a
// string or a list of content blocks and is kept verbatim. Any failure wraps
// ErrClientInput.
func DecodeRequest(r io.Reader) (domain.MessagesRequest, error) {
	var raw rawRequest
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return domain.MessagesRequest{}, fmt.Errorf("%w: decode body: %w", domain.ErrClientInput, err)
	}

	req := domain.MessagesRequest{
		Messages:    make([]domain.InputMessage, 0, len(raw.Messages)),
		MaxTokens:   raw.MaxTokens,
		Temperature: raw.Temperature,
		Stream:      raw.Stream,
	}

	if !isNull(raw.System) {
		if !validContent(raw.System) {
			return domain.MessagesRequest{}, fmt.Errorf("%w: system: %w", domain.ErrClientInput, errContentShape)
		}
		req.System = raw.System
	}

	for i, m := range raw.Messages {
		if !validContent(m.Content) {
			return domain.MessagesRequest{}, fmt.Errorf("%w: messages[%d].content: %w", domain.ErrClientInput, i, errContentShape)
		}
		req.Messages = append(req.Messages, m)
	}

	return req, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// validContent accepts a JSON string or array. The decoder has already
// checked the bytes are well formed.
func validContent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && (trimmed[0] == '"' || trimmed[0] == '[')
}

// emptyContent reports a missing, null, "" or [] content.
func emptyContent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if isNull(trimmed) {
		return true
	}
	switch trimmed[0] {
	case '"':
		return bytes.Equal(trimmed, []byte(`""`))
	case '[':
		return len(trimmed) >= 2 && len(bytes.TrimSpace(trimmed[1:len(trimmed)-1])) == 0
	}
	return false
}

// Request converts an inbound request into the backend schema. The model is
// fixed per deployment and never taken from the caller.
func Request(in domain.MessagesRequest, model string) domain.ChatRequest {
	messages := make([]domain.InputMessage, 0, len(in.Messages)+1)

	if !emptyContent(in.System) {
		messages = append(messages, domain.InputMessage{Role: "system", Content: in.System})
	}

	for _, m := range in.Messages {
		messages = append(messages, domain.InputMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	maxTokens := DefaultMaxTokens
	if in.MaxTokens != nil {
		maxTokens = *in.MaxTokens
	}

	temperature := DefaultTemperature
	if in.Temperature != nil {
		temperature = *in.Temperature
	}

	stream := false
	if in.Stream != nil {
		stream = *in.Stream
	}

	return domain.ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}

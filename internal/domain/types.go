package domain

import (
	"encoding/json"
	"strings"
)

// Message is a chat turn as the backend returns it.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InputMessage is a chat turn sent by the caller. Content is kept as the
// caller's raw JSON, a string or a list of content blocks, and forwarded as
// received.
type InputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextContent encodes s as a plain string message content.
func TextContent(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// MessagesRequest is the inbound (source schema) request body.
type MessagesRequest struct {
	System      json.RawMessage `json:"system,omitempty"`
	Messages    []InputMessage  `json:"messages"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      *bool           `json:"stream,omitempty"`
}

// MessagesResponse is the outbound (source schema) buffered reply.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      MessagesUsage  `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type MessagesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatRequest is the backend (OpenAI-compatible) request body.
type ChatRequest struct {
	Model       string         `json:"model"`
	Messages    []InputMessage `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature float64        `json:"temperature"`
	Stream      bool           `json:"stream"`
}

// ChatResponse is the backend buffered reply. Usage is a pointer so that an
// absent usage object can be told apart from zero counts.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object,omitempty"`
	Created int64    `json:"created,omitempty"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage"`
}

type Choice struct {
	Index        int      `json:"index"`
	Message      *Message `json:"message,omitempty"`
	Delta        *Delta   `json:"delta,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Fragment is one server-sent event read from the backend stream, kept as
// the raw non-empty lines that made it up.
type Fragment struct {
	Lines []string
}

// Data returns the event's data field values joined by newlines.
func (f Fragment) Data() string {
	var parts []string
	for _, line := range f.Lines {
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimPrefix(line, "data:")
		parts = append(parts, strings.TrimPrefix(value, " "))
	}
	return strings.Join(parts, "\n")
}

// IsDone reports whether the fragment is the backend's end-of-stream marker.
func (f Fragment) IsDone() bool {
	return strings.TrimSpace(f.Data()) == "[DONE]"
}

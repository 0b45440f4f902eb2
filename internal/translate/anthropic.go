package translate

import (
	"strings"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	messageStartTemplate = `{"type":"message_start","message":{"id":"","type":"message","role":"assistant","model":"","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`
	blockStartTemplate   = `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`
	blockDeltaTemplate   = `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":""}}`
	blockStopTemplate    = `{"type":"content_block_stop","index":0}`
	messageDeltaTemplate = `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":0}}`
	messageStopTemplate  = `{"type":"message_stop"}`
)

// Anthropic re-frames chat-completion chunks into typed message events
// (message_start, content_block_*, message_delta, message_stop). Only text
// deltas on the first choice are carried; other chunk content is dropped.
type Anthropic struct {
	messageID    string
	model        string
	started      bool
	blockStarted bool
	finished     bool
	stopReason   string
	hasUsage     bool
	inputTokens  int64
	outputTokens int64
}

func NewAnthropic() *Anthropic {
	return &Anthropic{stopReason: StopReasonEndTurn}
}

func (a *Anthropic) Translate(f domain.Fragment) [][]byte {
	if a.finished {
		return nil
	}

	data := strings.TrimSpace(f.Data())
	if data == "[DONE]" {
		return a.Finish()
	}
	if data == "" || !gjson.Valid(data) {
		return nil
	}

	root := gjson.Parse(data)
	var out [][]byte

	if !a.started {
		a.messageID = root.Get("id").String()
		a.model = root.Get("model").String()
		out = append(out, a.messageStart())
	}

	if usage := root.Get("usage"); usage.IsObject() {
		a.hasUsage = true
		a.inputTokens = usage.Get("prompt_tokens").Int()
		a.outputTokens = usage.Get("completion_tokens").Int()
	}

	if content := root.Get("choices.0.delta.content"); content.Exists() && content.String() != "" {
		if !a.blockStarted {
			out = append(out, sseEvent("content_block_start", blockStartTemplate))
			a.blockStarted = true
		}
		delta, _ := sjson.Set(blockDeltaTemplate, "delta.text", content.String())
		out = append(out, sseEvent("content_block_delta", delta))
	}

	if reason := root.Get("choices.0.finish_reason"); reason.Exists() && reason.String() != "" {
		a.stopReason = mapFinishReason(reason.String())
	}

	return out
}

func (a *Anthropic) Finish() [][]byte {
	if a.finished {
		return nil
	}
	a.finished = true

	var out [][]byte
	if !a.started {
		out = append(out, a.messageStart())
	}
	if a.blockStarted {
		out = append(out, sseEvent("content_block_stop", blockStopTemplate))
	}

	messageDelta, _ := sjson.Set(messageDeltaTemplate, "delta.stop_reason", a.stopReason)
	messageDelta, _ = sjson.Set(messageDelta, "usage.output_tokens", a.outputTokens)
	if a.hasUsage {
		messageDelta, _ = sjson.Set(messageDelta, "usage.input_tokens", a.inputTokens)
	}
	out = append(out, sseEvent("message_delta", messageDelta))
	out = append(out, sseEvent("message_stop", messageStopTemplate))

	return out
}

func (a *Anthropic) messageStart() []byte {
	a.started = true
	start, _ := sjson.Set(messageStartTemplate, "message.id", a.messageID)
	start, _ = sjson.Set(start, "message.model", a.model)
	return sseEvent("message_start", start)
}

func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return StopReasonEndTurn
	}
}

func sseEvent(name, data string) []byte {
	return []byte("event: " + name + "\ndata: " + data + "\n\n")
}

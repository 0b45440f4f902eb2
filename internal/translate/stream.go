package translate

import (
	"fmt"
	"strings"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
)

// StreamTranslator turns backend stream fragments into the bytes written to
// the caller. A translator holds per-call state and must not be reused
// across calls.
type StreamTranslator interface {
	// Translate returns zero or more output units for one fragment.
	Translate(f domain.Fragment) [][]byte
	// Finish returns any trailing units once the backend stream has ended.
	Finish() [][]byte
}

type StreamMode string

const (
	StreamModePassthrough StreamMode = "passthrough"
	StreamModeAnthropic   StreamMode = "anthropic"
)

func ParseStreamMode(s string) (StreamMode, error) {
	switch StreamMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", StreamModePassthrough:
		return StreamModePassthrough, nil
	case StreamModeAnthropic:
		return StreamModeAnthropic, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q", s)
	}
}

// NewStreamTranslator returns a fresh translator for one streaming call.
func NewStreamTranslator(mode StreamMode) StreamTranslator {
	if mode == StreamModeAnthropic {
		return NewAnthropic()
	}
	return Passthrough{}
}

// Passthrough forwards each backend event unchanged, one output unit per
// fragment, keeping the event-stream framing.
type Passthrough struct{}

func (Passthrough) Translate(f domain.Fragment) [][]byte {
	if len(f.Lines) == 0 {
		return nil
	}
	return [][]byte{[]byte(strings.Join(f.Lines, "\n") + "\n\n")}
}

func (Passthrough) Finish() [][]byte {
	return nil
}

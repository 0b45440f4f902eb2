package backend

import (
	"bufio"
	"io"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
)

const maxLineSize = 1 << 20

// EventReader splits a server-sent event stream into fragments. A fragment
// is the run of non-empty lines between blank lines.
type EventReader struct {
	scanner *bufio.Scanner
}

func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &EventReader{scanner: scanner}
}

// Next returns the next fragment, or io.EOF once the stream is exhausted.
func (r *EventReader) Next() (domain.Fragment, error) {
	var lines []string

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return domain.Fragment{Lines: lines}, nil
		}
		lines = append(lines, line)
	}

	if err := r.scanner.Err(); err != nil {
		return domain.Fragment{}, err
	}
	if len(lines) > 0 {
		return domain.Fragment{Lines: lines}, nil
	}
	return domain.Fragment{}, io.EOF
}

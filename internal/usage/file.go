package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

const DefaultLogFile = ".token_usage.log"

// FileSink appends one JSON object per line. The file is opened per write so
// it can be moved aside by external rotation.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultLogFile
	}
	return &FileSink{path: path}
}

func (s *FileSink) Write(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append usage log: %w", err)
	}

	return f.Close()
}

func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) Path() string {
	return s.path
}

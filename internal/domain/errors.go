package domain

import (
	"errors"
	"fmt"
)

var (
	ErrClientInput = errors.New("invalid request")
	ErrCredential  = errors.New("credential error")
	ErrTranslation = errors.New("translation error")
	ErrStreamIdle  = errors.New("stream idle timeout")
)

// BackendError carries a non-success reply from the backend so it can be
// forwarded to the caller unchanged.
type BackendError struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error: status=%d body=%s", e.StatusCode, string(e.Body))
}

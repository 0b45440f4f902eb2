// Package backend talks to the OpenAI-compatible chat completions endpoint.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
	"github.com/felipepmaragno/vertex-gateway/internal/metrics"
)

const maxErrorBodySize = 1 << 20

type Config struct {
	BaseURL string
	// RequestTimeout bounds a buffered call end to end. Zero means no limit.
	RequestTimeout time.Duration
	// IdleTimeout bounds the gap between two stream fragments. Zero means no limit.
	IdleTimeout time.Duration
}

type Client struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	idleTimeout    time.Duration
}

func New(cfg Config, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		client:         client,
		requestTimeout: cfg.RequestTimeout,
		idleTimeout:    cfg.IdleTimeout,
	}
}

func (c *Client) ChatCompletion(ctx context.Context, req domain.ChatRequest, token string) (*domain.ChatResponse, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	req.Stream = false
	resp, err := c.do(ctx, req, token, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, backendError(resp)
	}

	var chatResp domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		metrics.RecordBackendError("decode")
		return nil, fmt.Errorf("%w: decode backend response: %w", domain.ErrTranslation, err)
	}

	return &chatResp, nil
}

// Stream starts a streaming call. A non-200 reply is returned as a
// *domain.BackendError before any fragment is produced. Fragments are then
// delivered in arrival order until the backend sends [DONE] or closes the
// stream; at most one error is sent on the error channel. Canceling ctx
// closes the upstream connection.
func (c *Client) Stream(ctx context.Context, req domain.ChatRequest, token string) (<-chan domain.Fragment, <-chan error, error) {
	ctx, cancel := context.WithCancel(ctx)

	req.Stream = true
	resp, err := c.do(ctx, req, token, "text/event-stream")
	if err != nil {
		cancel()
		return nil, nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, nil, backendError(resp)
	}

	fragments := make(chan domain.Fragment)
	errs := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errs)
		defer cancel()
		defer resp.Body.Close()

		idle := newIdleWatch(c.idleTimeout, cancel)
		defer idle.stop()

		reader := NewEventReader(resp.Body)
		for {
			fragment, err := reader.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				switch {
				case idle.expired():
					metrics.RecordBackendError("idle_timeout")
					errs <- fmt.Errorf("%w: no data for %s", domain.ErrStreamIdle, c.idleTimeout)
				case ctx.Err() != nil:
					errs <- ctx.Err()
				default:
					metrics.RecordBackendError("stream_read")
					errs <- fmt.Errorf("read stream: %w", err)
				}
				return
			}

			// Time spent waiting on the consumer is not upstream idleness.
			idle.pause()
			select {
			case fragments <- fragment:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			idle.resume()

			if fragment.IsDone() {
				return
			}
		}
	}()

	return fragments, errs, nil
}

// idleWatch cancels the upstream call when no fragment arrives within d.
// A nil watch never fires.
type idleWatch struct {
	d     time.Duration
	timer *time.Timer
	fired atomic.Bool
}

func newIdleWatch(d time.Duration, cancel context.CancelFunc) *idleWatch {
	if d <= 0 {
		return nil
	}
	w := &idleWatch{d: d}
	w.timer = time.AfterFunc(d, func() {
		w.fired.Store(true)
		cancel()
	})
	return w
}

func (w *idleWatch) pause() {
	if w != nil {
		w.timer.Stop()
	}
}

func (w *idleWatch) resume() {
	if w != nil {
		w.timer.Reset(w.d)
	}
}

func (w *idleWatch) stop() {
	if w != nil {
		w.timer.Stop()
	}
}

func (w *idleWatch) expired() bool {
	return w != nil && w.fired.Load()
}

func (c *Client) do(ctx context.Context, req domain.ChatRequest, token, accept string) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.RecordBackendError("network")
		return nil, fmt.Errorf("do request: %w", err)
	}

	return resp, nil
}

func backendError(resp *http.Response) error {
	metrics.RecordBackendError("status")
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &domain.BackendError{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
	}
}

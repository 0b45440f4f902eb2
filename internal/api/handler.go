package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felipepmaragno/vertex-gateway/internal/domain"
	"github.com/felipepmaragno/vertex-gateway/internal/metrics"
	"github.com/felipepmaragno/vertex-gateway/internal/notifications"
	"github.com/felipepmaragno/vertex-gateway/internal/telemetry"
	"github.com/felipepmaragno/vertex-gateway/internal/translate"
	"github.com/felipepmaragno/vertex-gateway/internal/usage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

const maxRequestBodySize = 10 << 20

const (
	msgUpstreamAuth       = "upstream authentication failed"
	msgInvalidBackendResp = "invalid response from backend"
	msgBackendUnavailable = "backend request failed"
)

// TokenProvider hands out the bearer token for backend calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

type Backend interface {
	ChatCompletion(ctx context.Context, req domain.ChatRequest, token string) (*domain.ChatResponse, error)
	Stream(ctx context.Context, req domain.ChatRequest, token string) (<-chan domain.Fragment, <-chan error, error)
}

type UsageRecorder interface {
	Record(ctx context.Context, entry usage.Entry) error
}

type Alerter interface {
	Alert(notification notifications.Notification) bool
}

type HandlerConfig struct {
	Credentials TokenProvider
	Backend     Backend
	Recorder    UsageRecorder
	Alerter     Alerter
	Model       string
	StreamMode  translate.StreamMode

	HealthCheckers []HealthChecker
	HealthTimeout  time.Duration
}

type Handler struct {
	credentials TokenProvider
	backend     Backend
	recorder    UsageRecorder
	alerter     Alerter
	model       string
	streamMode  translate.StreamMode
	mux         *http.ServeMux

	checkers      []HealthChecker
	healthTimeout time.Duration
}

func NewHandler(cfg HandlerConfig) *Handler {
	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 5 * time.Second
	}

	h := &Handler{
		credentials: cfg.Credentials,
		backend:     cfg.Backend,
		recorder:    cfg.Recorder,
		alerter:     cfg.Alerter,
		model:       cfg.Model,
		streamMode:  cfg.StreamMode,
		mux:         http.NewServeMux(),

		checkers:      cfg.HealthCheckers,
		healthTimeout: healthTimeout,
	}

	h.mux.HandleFunc("POST /v1/messages", h.handleMessages)
	h.mux.HandleFunc("GET /health/live", h.handleLive)
	h.mux.HandleFunc("GET /health/ready", h.handleReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	ctx, span := telemetry.StartSpan(r.Context(), "relay.messages")
	defer span.End()

	in, err := translate.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		slog.Warn("invalid request", "request_id", requestID, "error", err)
		h.fail(w, span, "buffered", start, err)
		return
	}

	stream := in.Stream != nil && *in.Stream
	req := translate.Request(in, h.model)
	telemetry.AnnotateRelay(span, requestID, req.Model, stream)

	mode := "buffered"
	if stream {
		mode = "stream"
	}

	token, err := h.credentials.Token(ctx)
	if err != nil {
		slog.Error("credential refresh failed", "request_id", requestID, "error", err)
		h.fail(w, span, mode, start, err)
		return
	}

	if stream {
		h.handleStreamingResponse(ctx, w, span, req, token, requestID, start)
		return
	}

	resp, err := h.backend.ChatCompletion(ctx, req, token)
	if err != nil {
		h.logBackendError(requestID, err)
		h.fail(w, span, mode, start, err)
		return
	}

	out, err := translate.Response(*resp)
	if err != nil {
		slog.Error("backend response rejected", "request_id", requestID, "error", err)
		h.fail(w, span, mode, start, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	latency := time.Since(start)
	telemetry.AnnotateUsage(span, out.Usage.InputTokens, out.Usage.OutputTokens)
	telemetry.Finish(span, http.StatusOK, nil)
	metrics.RecordRequest(mode, "200", latency.Seconds())

	slog.Info("request completed",
		"request_id", requestID,
		"trace_id", telemetry.TraceID(ctx),
		"model", req.Model,
		"stream", false,
		"status", http.StatusOK,
		"latency_ms", latency.Milliseconds(),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)

	h.recordUsage(ctx, requestID, usage.Entry{
		Model:        req.Model,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
		Duration:     latency,
	})
}

// recordUsage never fails the call. A failure is logged and counted so lost
// records are visible.
func (h *Handler) recordUsage(ctx context.Context, requestID string, entry usage.Entry) {
	if h.recorder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := h.recorder.Record(ctx, entry); err != nil {
		metrics.RecordUsageRecordFailure()
		slog.Warn("usage record failed", "request_id", requestID, "model", entry.Model, "error", err)
	}
}

func (h *Handler) handleStreamingResponse(ctx context.Context, w http.ResponseWriter, span trace.Span, req domain.ChatRequest, token, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, errs, err := h.backend.Stream(ctx, req, token)
	if err != nil {
		h.logBackendError(requestID, err)
		h.fail(w, span, "stream", start, err)
		return
	}

	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	translator := translate.NewStreamTranslator(h.streamMode)
	emitted := 0

	write := func(units [][]byte) bool {
		for _, unit := range units {
			if _, err := w.Write(unit); err != nil {
				return false
			}
			flusher.Flush()
			emitted++
		}
		return true
	}

	for fragment := range fragments {
		metrics.RecordStreamFragment()
		if !write(translator.Translate(fragment)) {
			slog.Info("client disconnected during stream", "request_id", requestID, "fragments", emitted)
			metrics.RecordRequest("stream", "canceled", time.Since(start).Seconds())
			return
		}
	}

	latency := time.Since(start)
	status := "200"

	var streamErr error
	if err := <-errs; err != nil {
		if ctx.Err() != nil {
			slog.Info("stream canceled", "request_id", requestID, "fragments", emitted)
			status = "canceled"
		} else {
			slog.Error("stream failed", "request_id", requestID, "fragments", emitted, "error", err)
			streamErr = err
			status = "stream_error"
		}
	} else {
		write(translator.Finish())
	}

	telemetry.AnnotateFragments(span, emitted)
	telemetry.Finish(span, http.StatusOK, streamErr)
	metrics.RecordRequest("stream", status, latency.Seconds())

	slog.Info("streaming request completed",
		"request_id", requestID,
		"trace_id", telemetry.TraceID(ctx),
		"model", req.Model,
		"stream", true,
		"status", http.StatusOK,
		"latency_ms", latency.Milliseconds(),
		"fragments", emitted,
	)
}

func (h *Handler) logBackendError(requestID string, err error) {
	var backendErr *domain.BackendError
	if !errors.As(err, &backendErr) {
		slog.Error("backend request failed", "request_id", requestID, "error", err)
		return
	}

	slog.Warn("backend returned error", "request_id", requestID, "status", backendErr.StatusCode)

	if backendErr.StatusCode == http.StatusUnauthorized || backendErr.StatusCode == http.StatusForbidden {
		if h.alerter != nil {
			h.alerter.Alert(notifications.Notification{
				Type:    notifications.NotificationBackendAuthRejected,
				Message: "backend rejected the gateway bearer token",
				Data:    map[string]any{"status": backendErr.StatusCode, "request_id": requestID},
			})
		}
	}
}

// fail writes the error reply for err and records the outcome.
func (h *Handler) fail(w http.ResponseWriter, span trace.Span, mode string, start time.Time, err error) {
	status := writeRelayError(w, err)

	telemetry.Finish(span, status, err)
	metrics.RecordRequest(mode, strconv.Itoa(status), time.Since(start).Seconds())
}

// writeRelayError maps the error taxonomy onto a reply and returns the status
// it wrote. Backend replies are forwarded unchanged.
func writeRelayError(w http.ResponseWriter, err error) int {
	var backendErr *domain.BackendError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &backendErr):
		contentType := backendErr.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(backendErr.StatusCode)
		w.Write(backendErr.Body)
		return backendErr.StatusCode
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrClientInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCredential):
		writeError(w, http.StatusBadGateway, msgUpstreamAuth)
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTranslation):
		writeError(w, http.StatusInternalServerError, msgInvalidBackendResp)
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "backend request timed out")
		return http.StatusGatewayTimeout
	default:
		writeError(w, http.StatusBadGateway, msgBackendUnavailable)
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

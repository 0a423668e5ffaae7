package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/flynn-ai/modeldock/internal/errors"
)

// HTTPConfig configures the HTTP engine.
type HTTPConfig struct {
	BaseURL string // e.g. http://127.0.0.1:11435
	Timeout time.Duration
}

// DefaultHTTPConfig returns default configuration.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		BaseURL: "http://127.0.0.1:11435",
		Timeout: 10 * time.Minute,
	}
}

// ArtifactRecorder is told about a model's artifacts after a successful
// load so the cache store can later invalidate them.
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, modelID, key string) error
}

// HTTPEngine implements Engine against a local model server exposing
// POST /api/load, POST /api/unload and POST /v1/chat/completions.
type HTTPEngine struct {
	cfg       *HTTPConfig
	client    *http.Client
	artifacts ArtifactRecorder
	logger    *zap.Logger
}

// NewHTTPEngine creates a new HTTP engine. artifacts may be nil.
func NewHTTPEngine(cfg *HTTPConfig, artifacts ArtifactRecorder, logger *zap.Logger) *HTTPEngine {
	if cfg == nil {
		cfg = DefaultHTTPConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPEngine{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		artifacts: artifacts,
		logger:    logger,
	}
}

// CreateSession asks the server to load modelID. The server does not
// stream progress, so progress jumps from 0% to 100%.
func (e *HTTPEngine) CreateSession(ctx context.Context, modelID string, onProgress ProgressFunc) (Session, error) {
	if onProgress != nil {
		onProgress(0, "Fetching model")
	}

	var status struct {
		Status string `json:"status"`
		Model  string `json:"model"`
	}
	if err := e.post(ctx, "/api/load", map[string]string{"model": modelID}, &status); err != nil {
		return nil, err
	}
	e.logger.Debug("Model loaded by server", zap.String("model", modelID), zap.String("status", status.Status))

	if e.artifacts != nil {
		key := strings.TrimRight(e.cfg.BaseURL, "/") + "/models/" + modelID
		if err := e.artifacts.RecordArtifact(ctx, modelID, key); err != nil {
			e.logger.Warn("Failed to record model artifact", zap.String("model", modelID), zap.Error(err))
		}
	}

	if onProgress != nil {
		onProgress(1, "Finish loading")
	}
	return &httpSession{engine: e, modelID: modelID}, nil
}

// post sends a JSON body and decodes a JSON response into out.
func (e *HTTPEngine) post(ctx context.Context, path string, body any, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(e.cfg.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return apperrors.NewBuilder(apperrors.CodeModelCanceled, "request canceled").
				Kind(apperrors.KindCanceled).
				Wrap(ctx.Err()).
				Build()
		}
		return apperrors.NewBuilder(apperrors.CodeEngineRequest, "network error: failed to fetch "+url).
			Kind(apperrors.KindNetworkFailure).
			Retryable().
			Wrap(err).
			Build()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewBuilder(apperrors.CodeEngineRequest, "network error: failed to fetch response body").
			Kind(apperrors.KindNetworkFailure).
			Retryable().
			Wrap(err).
			Build()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.Wrap(err, apperrors.CodeEngineResponse, "failed to parse response")
	}
	return nil
}

// statusError turns a non-2xx response into an error whose text keeps
// the status line, so downstream sniffing still works, and whose kind is
// structured where the status code is unambiguous.
func statusError(code int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error.Message != "" {
		detail = payload.Error.Message
	}

	msg := fmt.Sprintf("%d %s", code, http.StatusText(code))
	if detail != "" {
		msg += ": " + detail
	}

	b := apperrors.NewBuilder(apperrors.CodeEngineRequest, msg)
	switch code {
	case http.StatusTooManyRequests:
		b = b.Kind(apperrors.KindRateLimited).Retryable()
	case http.StatusInsufficientStorage:
		b = b.Kind(apperrors.KindOutOfMemory)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		b = b.Kind(apperrors.KindNetworkFailure).Retryable()
	}
	return b.Build()
}

// ============================================================
// Session
// ============================================================

type httpSession struct {
	engine  *HTTPEngine
	modelID string
}

func (s *httpSession) ModelID() string {
	return s.modelID
}

// Complete sends the turns to /v1/chat/completions.
func (s *httpSession) Complete(ctx context.Context, turns []Message, params Params) (*Reply, error) {
	body := map[string]any{
		"model":       s.modelID,
		"messages":    turns,
		"temperature": params.Temperature,
		"max_tokens":  params.MaxTokens,
	}

	var reply Reply
	if err := s.engine.post(ctx, "/v1/chat/completions", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Unload asks the server to release the model. A server without an
// unload endpoint is treated as having nothing to release.
func (s *httpSession) Unload(ctx context.Context) error {
	err := s.engine.post(ctx, "/api/unload", map[string]string{"model": s.modelID}, nil)
	if err != nil && strings.HasPrefix(apperrors.RawMessage(err), "404 ") {
		return nil
	}
	return err
}

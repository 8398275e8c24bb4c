package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"convoprobe/internal/model"
	"convoprobe/pkg/logging"
)

const subsystem = "Chat"

// StatusError is returned for a non-2xx answer from the endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Client sends messages to a prediction endpoint. It is safe for concurrent
// use by independent sessions.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a client. Zero values in cfg fall back to the defaults.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	def := DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = def.InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = def.MaxInterval
	}
	if cfg.Retry.Multiplier < 1 {
		cfg.Retry.Multiplier = def.Multiplier
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Send posts the message and returns the agent's reply. The returned Reply
// carries the attempt count even when err is non-nil.
func (c *Client) Send(ctx context.Context, req Request) (Reply, error) {
	if req.Message == "" {
		return Reply{}, ErrEmptyMessage
	}

	body, err := json.Marshal(PredictionRequest{
		Question:       req.Message,
		OverrideConfig: OverrideConfig{SessionID: req.SessionID, Vars: req.Vars},
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.Retry.InitialInterval
	b.MaxInterval = c.cfg.Retry.MaxInterval
	b.Multiplier = c.cfg.Retry.Multiplier

	attempts := 0
	start := time.Now()
	operation := func() (PredictionResponse, error) {
		attempts++
		resp, err := c.attempt(ctx, body)
		if err == nil {
			return resp, nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return PredictionResponse{}, backoff.Permanent(err)
		}
		return PredictionResponse{}, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.Retry.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.Debug(subsystem, "session %s attempt %d failed, retrying in %s: %v", req.SessionID, attempts, next, err)
		}),
	)
	reply := Reply{Attempts: attempts, Latency: time.Since(start)}

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return reply, fmt.Errorf("session %s: %w", req.SessionID, perm.Err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reply, fmt.Errorf("session %s: %w", req.SessionID, ctxErr)
		}
		return reply, fmt.Errorf("session %s: %w after %d attempts: %v", req.SessionID, ErrExhausted, attempts, err)
	}

	reply.Text = resp.Text
	reply.ChatID = resp.ChatID
	reply.ToolCalls = toolCalls(resp.UsedTools)
	return reply, nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (PredictionResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return PredictionResponse{}, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return PredictionResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PredictionResponse{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var out PredictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PredictionResponse{}, fmt.Errorf("failed to decode reply: %w", err)
	}
	return out, nil
}

func toolCalls(used []UsedTool) []model.ToolCall {
	if len(used) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, 0, len(used))
	for _, u := range used {
		calls = append(calls, model.ToolCall{
			Name:   u.Tool,
			Input:  u.ToolInput,
			Output: stringify(u.ToolOutput),
		})
	}
	return calls
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

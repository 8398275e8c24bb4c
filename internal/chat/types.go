// Package chat talks to the conversational agent under test.
//
// The agent is reached through a Flowise-style prediction endpoint: every
// message is POSTed with the session id in overrideConfig and the reply
// carries the answer text plus the tools the agent used. Transient failures
// are retried with exponential backoff; the number of attempts is always
// reported back so the driver can record it on the turn.
package chat

import (
	"context"
	"errors"
	"time"

	"convoprobe/internal/model"
)

var (
	// ErrEmptyMessage is returned when Send is called with a zero-length
	// message. Whitespace-only messages are sent as-is.
	ErrEmptyMessage = errors.New("empty message")

	// ErrExhausted is wrapped by the error returned once every attempt failed.
	ErrExhausted = errors.New("retries exhausted")
)

// Request is one user message within a session.
type Request struct {
	SessionID string
	Message   string
	// Vars are passed to the agent as overrideConfig.vars
	Vars map[string]string
}

// Reply is the agent's answer to a Request.
type Reply struct {
	Text      string
	ToolCalls []model.ToolCall
	// ChatID is the identifier the agent assigned to the exchange, if any
	ChatID string
	// Attempts is the number of transport attempts used, including the successful one
	Attempts int
	// Latency covers all attempts and backoff waits
	Latency time.Duration
}

// Sender sends a message and waits for the agent's reply.
type Sender interface {
	Send(ctx context.Context, req Request) (Reply, error)
}

// RetryPolicy bounds how often and how fast failed attempts are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
	Multiplier      float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy matches the behaviour expected of a phone-style agent:
// a handful of attempts, backing off from one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      2.0,
	}
}

// Config configures a Client.
type Config struct {
	// Endpoint is the full prediction URL
	Endpoint string
	// APIKey is sent as a bearer token when set
	APIKey string
	// RequestTimeout bounds a single attempt
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultRequestTimeout bounds a single attempt when Config leaves it unset.
const DefaultRequestTimeout = 60 * time.Second

// PredictionRequest is the body POSTed to the prediction endpoint.
type PredictionRequest struct {
	Question       string         `json:"question"`
	OverrideConfig OverrideConfig `json:"overrideConfig"`
}

// OverrideConfig carries the session binding.
type OverrideConfig struct {
	SessionID string            `json:"sessionId"`
	Vars      map[string]string `json:"vars,omitempty"`
}

// PredictionResponse is the subset of the endpoint's answer we read.
type PredictionResponse struct {
	Text      string     `json:"text"`
	ChatID    string     `json:"chatId,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	UsedTools []UsedTool `json:"usedTools,omitempty"`
}

// UsedTool is a tool invocation reported by the agent.
type UsedTool struct {
	Tool       string                 `json:"tool"`
	ToolInput  map[string]interface{} `json:"toolInput,omitempty"`
	ToolOutput interface{}            `json:"toolOutput,omitempty"`
}

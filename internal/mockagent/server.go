package mockagent

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"convoprobe/internal/chat"
	"convoprobe/pkg/logging"
)

const subsystem = "MockAgent"

// Server answers prediction requests from a Script.
type Server struct {
	script Script
	rules  []compiledRule

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	next     int
	ruleHits map[int]int
	messages []string
}

// ErrorResponse is the body returned for scripted error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// New creates a server for the script.
func New(script Script) (*Server, error) {
	rules, err := compileRules(script.Rules)
	if err != nil {
		return nil, err
	}
	logging.Debug(subsystem, "mock agent %q loaded with %d replies and %d rules", script.Name, len(script.Replies), len(rules))
	return &Server{
		script:   script,
		rules:    rules,
		sessions: make(map[string]*session),
	}, nil
}

// RegisterRoutes registers the prediction endpoints.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/v1/prediction/:flow", s.Predict)
	e.POST("/api/chat", s.Predict)
}

// Echo returns a configured echo instance serving the mock agent.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	s.RegisterRoutes(e)
	return e
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	e := s.Echo()
	errCh := make(chan error, 1)
	go func() {
		logging.Info(subsystem, "mock agent listening on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Predict handles POST /api/v1/prediction/:flow.
func (s *Server) Predict(c echo.Context) error {
	var req chat.PredictionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
	}
	if req.Question == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "question is required"})
	}

	sessionID := req.OverrideConfig.SessionID
	reply, ok := s.pick(sessionID, req.Question)
	if !ok {
		return c.JSON(http.StatusOK, chat.PredictionResponse{SessionID: sessionID})
	}

	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	if reply.Status != 0 && reply.Status != http.StatusOK {
		return c.JSON(reply.Status, ErrorResponse{Error: http.StatusText(reply.Status), Details: reply.Text})
	}

	resp := chat.PredictionResponse{
		Text:      reply.Text,
		SessionID: sessionID,
		ChatID:    sessionID,
	}
	for _, t := range reply.Tools {
		resp.UsedTools = append(resp.UsedTools, chat.UsedTool{Tool: t.Name, ToolInput: t.Input, ToolOutput: t.Output})
	}
	return c.JSON(http.StatusOK, resp)
}

// pick selects the reply for a message and advances the session.
func (s *Server) pick(sessionID, message string) (Reply, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{ruleHits: make(map[int]int)}
		s.sessions[sessionID] = sess
	}
	sess.messages = append(sess.messages, message)

	for i, r := range s.rules {
		if !r.re.MatchString(message) {
			continue
		}
		if r.Times > 0 && sess.ruleHits[i] >= r.Times {
			continue
		}
		sess.ruleHits[i]++
		return r.Reply, true
	}

	if sess.next < len(s.script.Replies) {
		reply := s.script.Replies[sess.next]
		sess.next++
		return reply, true
	}

	if s.script.Default != nil {
		return *s.script.Default, true
	}
	return Reply{}, false
}

// Messages returns the messages a session has received, in order.
func (s *Server) Messages(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return append([]string(nil), sess.messages...)
	}
	return nil
}

// Sessions returns the number of distinct sessions seen.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

package mockagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convoprobe/internal/chat"
)

const testScript = `
name: flaky
rules:
  - match: '^\s*$'
    text: "Your message was empty."
  - match: "outage"
    times: 1
    status: 503
    text: "upstream down"
replies:
  - text: "Hello! May I have your full name?"
  - text: "Booked."
    tools:
      - name: schedule_appointment_ortho
        input: {slot: "Tue 9:00"}
        output: {status: booked}
default:
  text: "Anything else?"
`

func predict(t *testing.T, s *Server, session, question string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(chat.PredictionRequest{Question: question, OverrideConfig: chat.OverrideConfig{SessionID: session}})
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prediction/flow-1", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.Predict(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) chat.PredictionResponse {
	t.Helper()
	var resp chat.PredictionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	script, err := ParseScript([]byte(testScript))
	require.NoError(t, err)
	s, err := New(script)
	require.NoError(t, err)
	return s
}

func TestPredict_OrderedRepliesPerSession(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, "Hello! May I have your full name?", decode(t, predict(t, s, "a", "Hi")).Text)
	assert.Equal(t, "Hello! May I have your full name?", decode(t, predict(t, s, "b", "Hi")).Text, "sessions are independent")

	booked := decode(t, predict(t, s, "a", "Sarah Johnson"))
	assert.Equal(t, "Booked.", booked.Text)
	require.Len(t, booked.UsedTools, 1)
	assert.Equal(t, "schedule_appointment_ortho", booked.UsedTools[0].Tool)
	assert.Equal(t, "Tue 9:00", booked.UsedTools[0].ToolInput["slot"])

	assert.Equal(t, "Anything else?", decode(t, predict(t, s, "a", "Thanks")).Text)
	assert.Equal(t, []string{"Hi", "Sarah Johnson", "Thanks"}, s.Messages("a"))
	assert.Equal(t, 2, s.Sessions())
}

func TestPredict_RulesTakePrecedence(t *testing.T) {
	s := newTestServer(t)

	resp := decode(t, predict(t, s, "a", " "))
	assert.Equal(t, "Your message was empty.", resp.Text)

	// A rule reply does not consume the ordered replies.
	assert.Equal(t, "Hello! May I have your full name?", decode(t, predict(t, s, "a", "Hi")).Text)
}

func TestPredict_ScriptedStatusAndTimes(t *testing.T) {
	s := newTestServer(t)

	rec := predict(t, s, "a", "is there an outage?")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "upstream down", errResp.Details)

	rec = predict(t, s, "a", "is there an outage?")
	assert.Equal(t, http.StatusOK, rec.Code, "rule is limited to one hit per session")
}

func TestPredict_RejectsEmptyQuestion(t *testing.T) {
	s := newTestServer(t)
	rec := predict(t, s, "a", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNew_BadRule(t *testing.T) {
	_, err := New(Script{Rules: []Rule{{Match: "(unclosed"}}})
	assert.Error(t, err)
}

func TestParseScript_UnknownField(t *testing.T) {
	_, err := ParseScript([]byte("name: x\nreplys: []\n"))
	assert.Error(t, err)
}

func TestBuiltinScripts(t *testing.T) {
	names := BuiltinScripts()
	assert.Equal(t, []string{"blank-opening", "existing-patient-transfer", "new-patient-single-child"}, names)

	for _, name := range names {
		script, err := BuiltinScript(name)
		require.NoError(t, err, name)
		_, err = New(script)
		assert.NoError(t, err, name)
	}

	_, err := BuiltinScript("nope")
	assert.Error(t, err)
}

func TestServerWithChatClient(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Echo())
	defer srv.Close()

	client := chat.NewClient(chat.Config{
		Endpoint: srv.URL + "/api/v1/prediction/flow-1",
		Retry:    chat.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1},
	}, srv.Client())

	// The first attempt hits the 503 rule, the retry falls through to the replies.
	reply, err := client.Send(context.Background(), chat.Request{SessionID: "s", Message: "outage?"})
	require.NoError(t, err)
	assert.Equal(t, 2, reply.Attempts)
	assert.Equal(t, "Hello! May I have your full name?", reply.Text)

	_, err = client.Send(context.Background(), chat.Request{SessionID: "s", Message: ""})
	assert.True(t, errors.Is(err, chat.ErrEmptyMessage))
}

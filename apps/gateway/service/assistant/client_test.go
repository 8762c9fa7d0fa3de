package assistant

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/internal/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStream(t *testing.T) {
	t.Run("text and tool results", func(t *testing.T) {
		stream := strings.Join([]string{
			`f:{"messageId":"msg-1"}`,
			`0:"Try the "`,
			`0:"night market."`,
			`a:{"toolCallId":"call-1","result":{"name":"Shilin"}}`,
			``,
			`e:{"finishReason":"stop"}`,
		}, "\n")

		reply, err := parseStream(strings.NewReader(stream))
		require.NoError(t, err)

		assert.Equal(t, "Try the night market.", reply.Text)
		require.Len(t, reply.Results, 1)
		assert.JSONEq(t, `{"name":"Shilin"}`, string(reply.Results[0]))
	})

	t.Run("error part fails the reply", func(t *testing.T) {
		reply, err := parseStream(strings.NewReader("0:\"partial\"\n3:\"model overloaded\"\n"))

		require.ErrorIs(t, err, ErrUpstream)
		assert.Contains(t, err.Error(), "model overloaded")
		assert.Nil(t, reply)
	})

	t.Run("garbage lines are skipped", func(t *testing.T) {
		reply, err := parseStream(strings.NewReader("no separator\n0:not-json\n0:\"ok\"\n"))
		require.NoError(t, err)
		assert.Equal(t, "ok", reply.Text)
	})
}

func TestReply_Content(t *testing.T) {
	assert.Equal(t, "hello", (&Reply{Text: "hello"}).Content())
	assert.Empty(t, (&Reply{}).Content())
	assert.JSONEq(t, `[{"a":1}]`, (&Reply{Results: []json.RawMessage{json.RawMessage(`{"a":1}`)}}).Content())
}

func TestClient_Ask(t *testing.T) {
	var received requestBody
	var headers http.Header

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)

		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "0:\"Ramen at Ichiran\"\n")
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "genie-gemini", nil)

	reply, err := client.Ask(context.Background(), Request{
		Query:    "where to eat?",
		Group:    GroupRecommendations,
		UserData: &UserData{Location: "Tokyo, Japan", TimeOfDay: "evening"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Ramen at Ichiran", reply.Text)
	assert.Equal(t, "text/event-stream", headers.Get("Accept"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "v1", headers.Get("X-Vercel-Ai-Data-Stream"))

	assert.Equal(t, GroupRecommendations, received.Group)
	assert.Equal(t, "genie-gemini", received.Model)
	require.Len(t, received.Messages, 1)
	assert.Equal(t, "user", received.Messages[0].Role)
	assert.Equal(t, "where to eat?", received.Messages[0].Parts[0].Text)
	require.NotNil(t, received.UserData)
	assert.Equal(t, "Tokyo, Japan", received.UserData.Location)
}

func TestClient_Ask_EmptyQuery(t *testing.T) {
	client := NewClient(nil, "http://127.0.0.1:1", "genie-gemini", nil)

	_, err := client.Ask(context.Background(), Request{Query: "  ", Group: GroupWeb})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestClient_Ask_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.Client(), server.URL, "genie-gemini", nil)

	_, err := client.Ask(context.Background(), Request{Query: "hi", Group: GroupWeb})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "502")
}

func TestClient_Ask_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:         "genie",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})
	client := NewClient(server.Client(), server.URL, "genie-gemini", breaker)
	ctx := context.Background()

	for range 2 {
		_, err := client.Ask(ctx, Request{Query: "hi", Group: GroupWeb})
		require.ErrorIs(t, err, ErrUnexpectedStatus)
	}

	_, err := client.Ask(ctx, Request{Query: "hi", Group: GroupWeb})
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.ErrorIs(t, client.Ready(ctx), resilience.ErrCircuitOpen)
}

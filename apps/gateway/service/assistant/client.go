// Package assistant talks to the Genie AI search service. Replies arrive as a
// data stream of TYPE:JSON lines which are folded into a single Reply.
package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/internal/resilience"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/util"
)

// Group selects the assistant persona on the Genie side.
type Group string

const (
	GroupWeb             Group = "web"
	GroupRecommendations Group = "recommendations"
)

const (
	partText       = "0"
	partToolResult = "a"
	partError      = "3"

	maxStreamLine  = 4 << 20
	errorBodyLimit = 1024
)

var (
	ErrEmptyQuery       = errors.New("genie query is empty")
	ErrUpstream         = errors.New("genie service error")
	ErrUnexpectedStatus = errors.New("genie returned unexpected status")
)

// UserData personalises recommendation summons.
type UserData struct {
	Location    string            `json:"location,omitempty"`
	TimeOfDay   string            `json:"time_of_day,omitempty"`
	Archetypes  []json.RawMessage `json:"archetypes,omitempty"`
	Preferences []json.RawMessage `json:"preferences,omitempty"`
}

type Request struct {
	Query    string
	Group    Group
	UserData *UserData
}

// Reply is the folded stream: the concatenated text parts plus every tool
// result in arrival order.
type Reply struct {
	Text    string
	Results []json.RawMessage
}

// Content is what gets stored and shown for the reply.
func (r *Reply) Content() string {
	if r.Text != "" || len(r.Results) == 0 {
		return r.Text
	}
	raw, err := json.Marshal(r.Results)
	if err != nil {
		return ""
	}
	return string(raw)
}

type textPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type chatMessage struct {
	Role  string     `json:"role"`
	Parts []textPart `json:"parts"`
}

type requestBody struct {
	Messages []chatMessage `json:"messages"`
	Group    Group         `json:"group"`
	Model    string        `json:"model"`
	UserData *UserData     `json:"user_data,omitempty"`
}

type Client struct {
	httpClient *http.Client
	url        string
	model      string
	breaker    *resilience.CircuitBreaker
}

// NewClient creates a Genie client that posts to url with the given model.
func NewClient(httpClient *http.Client, url, model string, breaker *resilience.CircuitBreaker) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.DefaultSettings("genie"))
	}
	return &Client{httpClient: httpClient, url: url, model: model, breaker: breaker}
}

// NewClientFromConfig creates a Genie client with its own circuit breaker.
func NewClientFromConfig(ctx context.Context, cfg *config.GatewayConfig) *Client {
	breaker := resilience.NewCircuitBreaker(resilience.Settings{
		Name:         "genie",
		MaxFailures:  int64(cfg.GenieBreakerMaxFailures),
		ResetTimeout: time.Duration(cfg.GenieBreakerResetTimeSec) * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			util.Log(ctx).WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return NewClient(&http.Client{Timeout: cfg.GenieTimeout()}, cfg.GenieAIURL, cfg.GenieModel, breaker)
}

// Ready reports ErrCircuitOpen while Genie calls are being short-circuited.
func (c *Client) Ready(_ context.Context) error {
	return c.breaker.Allow()
}

func (c *Client) Ask(ctx context.Context, req Request) (*Reply, error) {
	if strings.TrimSpace(req.Query) == "" && req.Group != GroupRecommendations {
		return nil, ErrEmptyQuery
	}

	ctx, span := telemetry.GenieTracer.Start(ctx, "Ask")
	var reply *Reply
	err := c.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var askErr error
		reply, askErr = c.ask(ctx, req)
		return askErr
	})
	telemetry.GenieTracer.End(ctx, span, err)

	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) ask(ctx context.Context, req Request) (*Reply, error) {
	payload, err := json.Marshal(requestBody{
		Messages: []chatMessage{{
			Role:  "user",
			Parts: []textPart{{Type: "text", Text: req.Query}},
		}},
		Group:    req.Group,
		Model:    c.model,
		UserData: req.UserData,
	})
	if err != nil {
		return nil, fmt.Errorf("encode genie request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build genie request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Vercel-Ai-Data-Stream", "v1")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call genie: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return parseStream(resp.Body)
}

// parseStream folds a TYPE:JSON line stream. Unknown part types are skipped;
// an error part fails the whole reply.
func parseStream(r io.Reader) (*Reply, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	var text strings.Builder
	reply := &Reply{}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		kind, content, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch kind {
		case partText:
			var chunk string
			if json.Unmarshal([]byte(content), &chunk) == nil {
				text.WriteString(chunk)
			}
		case partToolResult:
			var tool struct {
				Result json.RawMessage `json:"result"`
			}
			if json.Unmarshal([]byte(content), &tool) == nil && len(tool.Result) > 0 {
				reply.Results = append(reply.Results, tool.Result)
			}
		case partError:
			var msg string
			if json.Unmarshal([]byte(content), &msg) != nil {
				msg = content
			}
			return nil, fmt.Errorf("%w: %s", ErrUpstream, msg)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read genie stream: %w", err)
	}

	reply.Text = text.String()
	return reply, nil
}

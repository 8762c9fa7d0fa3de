package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/assistant"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/repository"
	"github.com/stretchr/testify/require"
)

var (
	errTransportClosed = errors.New("transport closed")
	errWriteBroken     = errors.New("broken pipe")
)

type fakeTransport struct {
	mu         sync.Mutex
	sent       [][]byte
	sendErr    error
	closed     bool
	closeCount int

	inbound   chan []byte
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound:  make(chan []byte, 16),
		closedCh: make(chan struct{}),
	}
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case frame := <-f.inbound:
		return frame, nil
	case <-f.closedCh:
		return nil, errTransportClosed
	}
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errTransportClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closeCount++
	f.mu.Unlock()

	f.closeOnce.Do(func() { close(f.closedCh) })
	return nil
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) push(t *testing.T, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	f.inbound <- raw
}

// framesOfType decodes every written frame with the given type tag.
func (f *fakeTransport) framesOfType(msgType MessageType) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, raw := range f.sent {
		var frame map[string]any
		if json.Unmarshal(raw, &frame) != nil {
			continue
		}
		if frame["type"] == string(msgType) {
			out = append(out, frame)
		}
	}
	return out
}

type fakeStore struct {
	mu        sync.Mutex
	messages  map[string]*models.Message
	reads     int
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: map[string]*models.Message{}}
}

func (s *fakeStore) CreateMessage(
	_ context.Context,
	senderID, receiverID, content string,
	fromGenie bool,
) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return nil, s.createErr
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:          fmt.Sprintf("msg-%d", len(s.messages)+1),
		SenderID:    senderID,
		ReceiverID:  receiverID,
		Content:     content,
		Status:      models.MessageStatusSent,
		IsFromGenie: fromGenie,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.messages[msg.ID] = msg

	stored := *msg
	return &stored, nil
}

func (s *fakeStore) GetMessageByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	msg, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrMessageNotFound
	}
	stored := *msg
	return &stored, nil
}

func (s *fakeStore) UpdateMessageStatus(
	_ context.Context,
	id string,
	status models.MessageStatus,
	updatedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return repository.ErrMessageNotFound
	}
	msg.Status = status
	msg.UpdatedAt = updatedAt
	return nil
}

func (s *fakeStore) all() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, *msg)
	}
	return out
}

func (s *fakeStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

type pushCall struct {
	UserID string
	Title  string
	Body   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (n *fakeNotifier) SendOfflinePush(_ context.Context, userID, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, pushCall{UserID: userID, Title: title, Body: body})
	return n.err
}

func (n *fakeNotifier) pushes() []pushCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pushCall(nil), n.calls...)
}

type fakeAssistant struct {
	mu       sync.Mutex
	requests []assistant.Request
	reply    *assistant.Reply
	err      error
}

func (a *fakeAssistant) Ask(_ context.Context, req assistant.Request) (*assistant.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	return a.reply, nil
}

func (a *fakeAssistant) lastRequest() assistant.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

// inlineRunner runs tasks synchronously so handler tests stay deterministic.
type inlineRunner struct {
	err error
}

func (r inlineRunner) Run(ctx context.Context, task func(ctx context.Context) error) error {
	if r.err != nil {
		return r.err
	}
	return task(ctx)
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []InboundMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg InboundMessage, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func (d *recordingDispatcher) types() []MessageType {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]MessageType, 0, len(d.messages))
	for _, msg := range d.messages {
		out = append(out, msg.Type)
	}
	return out
}

func inbound(t *testing.T, frame map[string]any) InboundMessage {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	msg, err := DecodeInbound(raw)
	require.NoError(t, err)
	return msg
}

func testSettings() Settings {
	return Settings{
		MaxConnections:    100,
		HeartbeatInterval: time.Hour,
		WriteTimeout:      time.Second,
	}
}

func newTestConnectionManager(t *testing.T, settings Settings) *connectionManager {
	t.Helper()
	cm := newConnectionManager(context.Background(), settings, nil)
	t.Cleanup(func() { _ = cm.Shutdown(context.Background()) })
	return cm
}

package queues

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/config"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/push"
	"github.com/pitabwire/frame/queue"
	"github.com/stretchr/testify/require"
)

// mockPublisher implements queue.Publisher for testing.
type mockPublisher struct {
	published    []mockPublished
	publishError error
}

type mockPublished struct {
	payload any
	headers map[string]string
}

func (m *mockPublisher) Initiated() bool              { return true }
func (m *mockPublisher) Ref() string                  { return "mock" }
func (m *mockPublisher) Init(_ context.Context) error { return nil }
func (m *mockPublisher) Stop(_ context.Context) error { return nil }
func (m *mockPublisher) As(_ any) bool                { return false }
func (m *mockPublisher) Publish(_ context.Context, payload any, headers ...map[string]string) error {
	if m.publishError != nil {
		return m.publishError
	}
	var h map[string]string
	if len(headers) > 0 {
		h = headers[0]
	}
	m.published = append(m.published, mockPublished{payload: payload, headers: h})
	return nil
}

// decodePush reads back a published OfflinePush.
func (m *mockPublisher) decodePush(t *testing.T, i int) *OfflinePush {
	t.Helper()
	require.Greater(t, len(m.published), i)
	raw, ok := m.published[i].payload.([]byte)
	require.True(t, ok, "payload should be raw JSON")

	msg := &OfflinePush{}
	require.NoError(t, json.Unmarshal(raw, msg))
	return msg
}

// mockQueueManager implements queue.Manager for testing.
type mockQueueManager struct {
	publishers      map[string]*mockPublisher
	getPublisherErr error
}

func newMockQueueManager() *mockQueueManager {
	return &mockQueueManager{
		publishers: make(map[string]*mockPublisher),
	}
}

func (m *mockQueueManager) AddPublisher(_ context.Context, _ string, _ string) error { return nil }
func (m *mockQueueManager) DiscardPublisher(_ context.Context, _ string) error       { return nil }
func (m *mockQueueManager) AddSubscriber(_ context.Context, _ string, _ string, _ ...queue.SubscribeWorker) error {
	return nil
}
func (m *mockQueueManager) DiscardSubscriber(_ context.Context, _ string) error { return nil }
func (m *mockQueueManager) GetSubscriber(_ string) (queue.Subscriber, error)    { return nil, nil }
func (m *mockQueueManager) Publish(_ context.Context, _ string, _ any, _ ...map[string]string) error {
	return nil
}
func (m *mockQueueManager) Init(_ context.Context) error { return nil }
func (m *mockQueueManager) GetPublisher(name string) (queue.Publisher, error) {
	if m.getPublisherErr != nil {
		return nil, m.getPublisherErr
	}
	return m.publisher(name), nil
}

func (m *mockQueueManager) publisher(name string) *mockPublisher {
	pub, ok := m.publishers[name]
	if !ok {
		pub = &mockPublisher{}
		m.publishers[name] = pub
	}
	return pub
}

func defaultTestConfig() *config.GatewayConfig {
	return &config.GatewayConfig{
		QueueOfflinePushName: "offline.push",
		QueueOfflinePushURI:  "mem://offline.push",
		QueueDeadLetterName:  "offline.push.dlq",
		QueueDeadLetterURI:   "mem://offline.push.dlq",
		MaxDeliveryRetries:   3,
	}
}

type fakeNotificationRepo struct {
	mu        sync.Mutex
	stored    []*models.Notification
	createErr error
}

func (r *fakeNotificationRepo) CreateNotification(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	// Same as the repository: a repeated id is ignored.
	for _, existing := range r.stored {
		if existing.ID == n.ID {
			return nil
		}
	}
	r.stored = append(r.stored, n)
	return nil
}

type fakeTokenRepo struct {
	mu          sync.Mutex
	tokens      map[string][]string
	deactivated []string
	platforms   []string
	listErr     error
}

func (r *fakeTokenRepo) ActiveTokens(_ context.Context, userID, platform string) ([]*models.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms = append(r.platforms, platform)
	if r.listErr != nil {
		return nil, r.listErr
	}

	var out []*models.DeviceToken
	for _, tok := range r.tokens[userID] {
		out = append(out, &models.DeviceToken{UserID: userID, Token: tok, Platform: platform, IsActive: true})
	}
	return out, nil
}

func (r *fakeTokenRepo) DeactivateToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = append(r.deactivated, token)
	return nil
}

// scriptedSender answers per token; unknown tokens succeed.
type scriptedSender struct {
	mu      sync.Mutex
	results map[string]*push.Result
	errs    map[string]error
	sent    []string
	last    push.Message
}

func (s *scriptedSender) Send(_ context.Context, deviceToken string, msg push.Message) (*push.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, deviceToken)
	s.last = msg
	if err := s.errs[deviceToken]; err != nil {
		return nil, err
	}
	if res := s.results[deviceToken]; res != nil {
		return res, nil
	}
	return &push.Result{ID: "apns-" + deviceToken}, nil
}

package business

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopRoutes() map[MessageType]Handler {
	routes := make(map[MessageType]Handler, len(InboundTypes))
	for _, msgType := range InboundTypes {
		routes[msgType] = func(context.Context, InboundMessage, string) error { return nil }
	}
	return routes
}

func TestNewRouter_PanicsOnMissingHandler(t *testing.T) {
	routes := noopRoutes()
	delete(routes, TypeSummonGenie)

	assert.PanicsWithValue(t, `no handler registered for "summonGenie"`, func() {
		NewRouter(routes)
	})
}

func TestRouter_DispatchesByType(t *testing.T) {
	routes := noopRoutes()

	var gotSender string
	var gotType MessageType
	routes[TypeTypingStatus] = func(_ context.Context, msg InboundMessage, senderID string) error {
		gotSender = senderID
		gotType = msg.Type
		return nil
	}

	router := NewRouter(routes)
	router.Dispatch(context.Background(), inbound(t, map[string]any{"type": "typingStatus"}), "alice")

	assert.Equal(t, "alice", gotSender)
	assert.Equal(t, TypeTypingStatus, gotType)
}

func TestRouter_TableIsFixedAtConstruction(t *testing.T) {
	routes := noopRoutes()
	router := NewRouter(routes)

	called := false
	routes[TypeTypingStatus] = func(context.Context, InboundMessage, string) error {
		called = true
		return nil
	}

	router.Dispatch(context.Background(), inbound(t, map[string]any{"type": "typingStatus"}), "alice")
	assert.False(t, called)
}

func TestRouter_UnknownTypeDropped(t *testing.T) {
	router := NewRouter(noopRoutes())

	require.NotPanics(t, func() {
		router.Dispatch(context.Background(), inbound(t, map[string]any{"type": "teleport"}), "alice")
	})
}

func TestRouter_HandlerErrorIsContained(t *testing.T) {
	routes := noopRoutes()
	routes[TypeNewChatMessage] = func(context.Context, InboundMessage, string) error {
		return errors.New("database unavailable")
	}
	router := NewRouter(routes)

	require.NotPanics(t, func() {
		router.Dispatch(context.Background(), inbound(t, map[string]any{"type": "newChatMessage"}), "alice")
	})
}

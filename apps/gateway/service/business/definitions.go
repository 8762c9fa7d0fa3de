package business

import (
	"context"
	"errors"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/assistant"
	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
)

var (
	ErrInvalidInput       = errors.New("user id and transport are required")
	ErrShuttingDown       = errors.New("connection manager is shutting down")
	ErrConnectionPoolFull = errors.New("connection pool full")
	ErrSendFailed         = errors.New("send failed")

	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingField   = errors.New("required field missing")
	ErrSenderMismatch = errors.New("sender does not match authenticated identity")
	ErrInvalidStatus  = errors.New("invalid message status")
	ErrNotParticipant = errors.New("user is not a participant of the message")
)

// Transport is one duplex frame channel to a client, usually a websocket.
type Transport interface {
	// Receive blocks until the next inbound frame or a read error.
	Receive() ([]byte, error)
	// Send writes a single frame and must honour the deadline on ctx.
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// ConnectionManager owns the per-user connection registry and everything
// that writes to a connection.
type ConnectionManager interface {
	Connect(ctx context.Context, transport Transport, userID string) (*Connection, error)
	Disconnect(ctx context.Context, userID string, reason string)
	Send(ctx context.Context, userID string, msgType MessageType, payload any) (bool, error)

	IsOnline(userID string) bool
	ListOnline() []string

	// Serve registers transport for userID and pumps inbound frames into
	// dispatcher until the transport fails. The connection is removed on return.
	Serve(ctx context.Context, transport Transport, userID string, dispatcher Dispatcher) error

	ActiveConnections() int
	Capacity() int
	Shutdown(ctx context.Context) error
}

// Dispatcher hands a decoded inbound frame to whatever handles its type.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg InboundMessage, senderID string)
}

// MessageStore persists private chat messages.
type MessageStore interface {
	CreateMessage(
		ctx context.Context,
		senderID, receiverID, content string,
		fromGenie bool,
	) (*models.Message, error)
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, updatedAt time.Time) error
}

// Notifier reaches users that have no live connection.
type Notifier interface {
	SendOfflinePush(ctx context.Context, userID, title, body string) error
}

// Assistant answers Genie summons.
type Assistant interface {
	Ask(ctx context.Context, req assistant.Request) (*assistant.Reply, error)
}

// TaskRunner executes work off the receive loop.
type TaskRunner interface {
	Run(ctx context.Context, task func(ctx context.Context) error) error
}

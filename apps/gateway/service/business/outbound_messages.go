package business

import (
	"encoding/json"
	"fmt"
	"time"
)

// Outbound frame types.
const (
	TypeHeartbeat     MessageType = "heartbeat"
	TypeGenieResponse MessageType = "genieResponse"
	TypeGenieError    MessageType = "genieError"

	TypeFriendRequest         MessageType = "FRIEND_REQUEST"
	TypeFriendRequestAccepted MessageType = "FRIEND_REQUEST_ACCEPTED"
	TypeFriendRequestRejected MessageType = "FRIEND_REQUEST_REJECTED"
	TypeSharedItem            MessageType = "sharedItem"
	TypeUserActivity          MessageType = "userActivity"
)

// NotificationTypes are the server-originated categories other services may
// push to a user through the gateway.
//
//nolint:gochecknoglobals // fixed protocol table
var NotificationTypes = map[MessageType]struct{}{
	TypeFriendRequest:         {},
	TypeFriendRequestAccepted: {},
	TypeFriendRequestRejected: {},
	TypeSharedItem:            {},
	TypeUserActivity:          {},
}

func IsNotificationType(t MessageType) bool {
	_, ok := NotificationTypes[t]
	return ok
}

// EncodeFrame marshals payload and merges the type tag into it. payload must
// encode to a JSON object, or be nil.
func EncodeFrame(msgType MessageType, payload any) ([]byte, error) {
	fields := map[string]json.RawMessage{}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msgType, err)
		}
		if err = json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("encode %s: payload is not an object: %w", msgType, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	tag, err := json.Marshal(msgType)
	if err != nil {
		return nil, err
	}
	fields["type"] = tag

	return json.Marshal(fields)
}

type MessageUpdateEvent struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

type TypingEvent struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

type UserStatusEvent struct {
	UserID     string `json:"user_id"`
	ReceiverID string `json:"receiver_id"`
	Status     string `json:"status"`
}

// GenieResponseEvent is the assistant's answer, sent to both participants.
type GenieResponseEvent struct {
	MessageID   string            `json:"message_id,omitempty"`
	SenderID    string            `json:"sender_id"`
	ReceiverID  string            `json:"receiver_id"`
	Query       string            `json:"query"`
	Content     string            `json:"content"`
	Results     []json.RawMessage `json:"results,omitempty"`
	IsFromGenie bool              `json:"is_from_genie"`
	CreatedAt   time.Time         `json:"created_at"`
}

type GenieErrorEvent struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	Query      string `json:"query"`
	Error      string `json:"error"`
}

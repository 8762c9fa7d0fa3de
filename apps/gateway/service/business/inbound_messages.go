package business

import (
	"encoding/json"
	"fmt"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/assistant"
)

// MessageType is the value of the "type" key every frame carries.
type MessageType string

// Inbound frame types.
const (
	TypeNewChatMessage             MessageType = "newChatMessage"
	TypeMessageUpdate              MessageType = "messageUpdate"
	TypeTypingStatus               MessageType = "typingStatus"
	TypeUserStatus                 MessageType = "userStatus"
	TypeSummonGenie                MessageType = "summonGenie"
	TypeSummonGenieRecommendations MessageType = "summonGenieRecommendations"
	TypeHeartbeatAck               MessageType = "heartbeatAck"
)

// InboundTypes lists every client frame type the router must handle.
// heartbeatAck is consumed by the receive loop and never routed.
//
//nolint:gochecknoglobals // fixed protocol table
var InboundTypes = []MessageType{
	TypeNewChatMessage,
	TypeMessageUpdate,
	TypeTypingStatus,
	TypeUserStatus,
	TypeSummonGenie,
	TypeSummonGenieRecommendations,
}

// InboundMessage is a frame whose type has been read but whose body has not.
type InboundMessage struct {
	Type MessageType
	Body json.RawMessage
}

// DecodeInbound reads the type tag of a raw client frame.
func DecodeInbound(frame []byte) (InboundMessage, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if head.Type == "" {
		return InboundMessage{}, fmt.Errorf("%w: type", ErrMissingField)
	}
	return InboundMessage{Type: head.Type, Body: frame}, nil
}

// Decode unmarshals the frame body into v.
func (m InboundMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformedFrame, m.Type, err)
	}
	return nil
}

type ChatMessageRequest struct {
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

type StatusUpdateRequest struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type TypingRequest struct {
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id"`
	IsTyping   bool   `json:"is_typing"`
}

type UserStatusRequest struct {
	UserID     string `json:"user_id,omitempty"`
	ReceiverID string `json:"receiver_id"`
	Status     string `json:"status"`
}

// SummonGenieRequest asks the assistant to join a private conversation.
// UserData is only read for recommendation summons.
type SummonGenieRequest struct {
	SenderID   string              `json:"sender_id,omitempty"`
	ReceiverID string              `json:"receiver_id"`
	Query      string              `json:"query"`
	UserData   *assistant.UserData `json:"user_data,omitempty"`
}

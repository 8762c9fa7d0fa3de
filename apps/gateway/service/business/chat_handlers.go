package business

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/models"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/util"
)

const newMessagePushTitle = "New Message"

// MessageHandlers implements every inbound frame type on top of the
// connection manager and its collaborators.
type MessageHandlers struct {
	cm       ConnectionManager
	store    MessageStore
	notifier Notifier
	genie    Assistant
	runner   TaskRunner
}

// NewMessageHandlers creates the handler set behind the message router.
func NewMessageHandlers(
	cm ConnectionManager,
	store MessageStore,
	notifier Notifier,
	genie Assistant,
	runner TaskRunner,
) *MessageHandlers {
	return &MessageHandlers{
		cm:       cm,
		store:    store,
		notifier: notifier,
		genie:    genie,
		runner:   runner,
	}
}

// Routes is the static dispatch table for NewRouter.
func (h *MessageHandlers) Routes() map[MessageType]Handler {
	return map[MessageType]Handler{
		TypeNewChatMessage:             h.handlePrivateChat,
		TypeMessageUpdate:              h.handleStatusUpdate,
		TypeTypingStatus:               h.handleTyping,
		TypeUserStatus:                 h.handleUserStatus,
		TypeSummonGenie:                h.handleSummonGenie,
		TypeSummonGenieRecommendations: h.handleSummonGenieRecommendations,
	}
}

// checkSender rejects frames that claim to come from someone other than the
// connection's own user. An empty claim is accepted.
func checkSender(claimed, senderID string) error {
	if claimed != "" && claimed != senderID {
		return fmt.Errorf("%w: claimed %s", ErrSenderMismatch, claimed)
	}
	return nil
}

func (h *MessageHandlers) handlePrivateChat(ctx context.Context, msg InboundMessage, senderID string) error {
	var req ChatMessageRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := checkSender(req.SenderID, senderID); err != nil {
		return err
	}
	if req.ReceiverID == "" {
		return fmt.Errorf("%w: receiver_id", ErrMissingField)
	}
	if strings.TrimSpace(req.Content) == "" {
		return fmt.Errorf("%w: content", ErrMissingField)
	}

	stored, err := h.store.CreateMessage(ctx, senderID, req.ReceiverID, req.Content, false)
	if err != nil {
		return err
	}

	return h.deliverOrPush(ctx, req.ReceiverID, TypeNewChatMessage, stored, newMessagePushTitle, req.Content)
}

// deliverOrPush sends to a live connection and falls back to an offline push
// when there is none, including when the write just failed and took the
// connection down.
func (h *MessageHandlers) deliverOrPush(
	ctx context.Context,
	userID string,
	msgType MessageType,
	payload any,
	title, body string,
) error {
	delivered, err := h.cm.Send(ctx, userID, msgType, payload)
	if delivered {
		return nil
	}
	if err != nil {
		util.Log(ctx).WithError(err).WithField("receiver_id", userID).
			Debug("Live delivery failed, falling back to push")
	}

	if pushErr := h.notifier.SendOfflinePush(ctx, userID, title, body); pushErr != nil {
		return fmt.Errorf("offline push to %s: %w", userID, pushErr)
	}
	telemetry.OfflinePushQueued.Add(ctx, 1)
	return nil
}

func (h *MessageHandlers) handleStatusUpdate(ctx context.Context, msg InboundMessage, senderID string) error {
	var req StatusUpdateRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if req.MessageID == "" {
		return fmt.Errorf("%w: message_id", ErrMissingField)
	}

	status := models.MessageStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}

	stored, err := h.store.GetMessageByID(ctx, req.MessageID)
	if err != nil {
		return err
	}
	if !stored.IsParticipant(senderID) {
		return fmt.Errorf("%w: %s", ErrNotParticipant, req.MessageID)
	}

	updatedAt := time.Now().UTC()
	if err = h.store.UpdateMessageStatus(ctx, stored.ID, status, updatedAt); err != nil {
		return err
	}

	_, err = h.cm.Send(ctx, stored.SenderID, TypeMessageUpdate, MessageUpdateEvent{
		MessageID: stored.ID,
		Status:    string(status),
		UpdatedBy: senderID,
		UpdatedAt: updatedAt,
	})
	return err
}

func (h *MessageHandlers) handleTyping(ctx context.Context, msg InboundMessage, senderID string) error {
	var req TypingRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := checkSender(req.SenderID, senderID); err != nil {
		return err
	}
	if req.ReceiverID == "" {
		return fmt.Errorf("%w: receiver_id", ErrMissingField)
	}

	// Typing indicators are ephemeral; an offline receiver simply misses it.
	_, err := h.cm.Send(ctx, req.ReceiverID, TypeTypingStatus, TypingEvent{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		IsTyping:   req.IsTyping,
	})
	return err
}

func (h *MessageHandlers) handleUserStatus(ctx context.Context, msg InboundMessage, senderID string) error {
	var req UserStatusRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := checkSender(req.UserID, senderID); err != nil {
		return err
	}
	if req.ReceiverID == "" {
		return fmt.Errorf("%w: receiver_id", ErrMissingField)
	}
	if strings.TrimSpace(req.Status) == "" {
		return fmt.Errorf("%w: status", ErrMissingField)
	}

	event := UserStatusEvent{
		UserID:     senderID,
		ReceiverID: req.ReceiverID,
		Status:     req.Status,
	}
	return h.sendToBoth(ctx, senderID, req.ReceiverID, TypeUserStatus, event)
}

// sendToBoth attempts both participants even when the first send fails.
func (h *MessageHandlers) sendToBoth(ctx context.Context, first, second string, msgType MessageType, payload any) error {
	_, firstErr := h.cm.Send(ctx, first, msgType, payload)
	_, secondErr := h.cm.Send(ctx, second, msgType, payload)
	if firstErr != nil {
		return firstErr
	}
	return secondErr
}

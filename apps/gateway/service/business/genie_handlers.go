package business

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gillverbasiglo/genie-api-sub000/apps/gateway/service/assistant"
	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/util"
)

const genieUnavailable = "Genie could not answer right now, please try again."

func (h *MessageHandlers) handleSummonGenie(ctx context.Context, msg InboundMessage, senderID string) error {
	return h.summon(ctx, msg, senderID, assistant.GroupWeb)
}

func (h *MessageHandlers) handleSummonGenieRecommendations(
	ctx context.Context,
	msg InboundMessage,
	senderID string,
) error {
	return h.summon(ctx, msg, senderID, assistant.GroupRecommendations)
}

// summon validates the request on the receive loop and runs the assistant
// call on the task runner. The outcome reaches both participants either as
// genieResponse or genieError.
func (h *MessageHandlers) summon(
	ctx context.Context,
	msg InboundMessage,
	senderID string,
	group assistant.Group,
) error {
	var req SummonGenieRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	if err := checkSender(req.SenderID, senderID); err != nil {
		return err
	}
	if req.ReceiverID == "" {
		return fmt.Errorf("%w: receiver_id", ErrMissingField)
	}
	if strings.TrimSpace(req.Query) == "" && group == assistant.GroupWeb {
		return fmt.Errorf("%w: query", ErrMissingField)
	}

	telemetry.GenieRequests.Add(ctx, 1)

	ask := assistant.Request{Query: req.Query, Group: group}
	if group == assistant.GroupRecommendations {
		ask.UserData = req.UserData
	}

	// The answer is still owed to the counterpart if the summoner drops.
	taskCtx := context.WithoutCancel(ctx)
	err := h.runner.Run(taskCtx, func(ctx context.Context) error {
		h.answerSummon(ctx, senderID, req, ask)
		return nil
	})
	if err != nil {
		h.reportGenieFailure(taskCtx, senderID, req, err)
		return err
	}
	return nil
}

func (h *MessageHandlers) answerSummon(
	ctx context.Context,
	senderID string,
	req SummonGenieRequest,
	ask assistant.Request,
) {
	start := time.Now()
	reply, err := h.genie.Ask(ctx, ask)
	telemetry.GenieLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	if err != nil {
		h.reportGenieFailure(ctx, senderID, req, err)
		return
	}

	event := GenieResponseEvent{
		SenderID:    senderID,
		ReceiverID:  req.ReceiverID,
		Query:       req.Query,
		Content:     reply.Content(),
		Results:     reply.Results,
		IsFromGenie: true,
		CreatedAt:   time.Now().UTC(),
	}

	stored, err := h.store.CreateMessage(ctx, senderID, req.ReceiverID, event.Content, true)
	if err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"user_id":     senderID,
			"receiver_id": req.ReceiverID,
			"error_type":  "genie.persist.error",
		}).Warn("Could not store genie reply, relaying anyway")
	} else {
		event.MessageID = stored.ID
		event.CreatedAt = stored.CreatedAt
	}

	if err = h.sendToBoth(ctx, senderID, req.ReceiverID, TypeGenieResponse, event); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", senderID).Debug("Genie response not delivered to every participant")
	}
}

func (h *MessageHandlers) reportGenieFailure(ctx context.Context, senderID string, req SummonGenieRequest, cause error) {
	telemetry.GenieFailures.Add(ctx, 1)
	util.Log(ctx).WithError(cause).WithFields(map[string]any{
		"user_id":     senderID,
		"receiver_id": req.ReceiverID,
		"error_type":  "genie.request.error",
	}).Warn("Genie summon failed")

	event := GenieErrorEvent{
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Query:      req.Query,
		Error:      genieUnavailable,
	}
	if err := h.sendToBoth(ctx, senderID, req.ReceiverID, TypeGenieError, event); err != nil {
		util.Log(ctx).WithError(err).WithField("user_id", senderID).Debug("Genie error not delivered to every participant")
	}
}

package business

import (
	"context"
	"fmt"

	"github.com/gillverbasiglo/genie-api-sub000/internal/telemetry"
	"github.com/pitabwire/util"
)

// Handler processes one inbound frame on behalf of senderID. A returned
// error means the frame was rejected; it never ends the connection.
type Handler func(ctx context.Context, msg InboundMessage, senderID string) error

// Router dispatches inbound frames by type through a table fixed at
// construction.
type Router struct {
	handlers map[MessageType]Handler
}

// NewRouter panics when any of InboundTypes has no handler, so a missing
// route fails at startup rather than on the first frame.
func NewRouter(handlers map[MessageType]Handler) *Router {
	table := make(map[MessageType]Handler, len(handlers))
	for msgType, handler := range handlers {
		table[msgType] = handler
	}

	for _, msgType := range InboundTypes {
		if table[msgType] == nil {
			panic(fmt.Sprintf("no handler registered for %q", msgType))
		}
	}

	return &Router{handlers: table}
}

func (r *Router) Dispatch(ctx context.Context, msg InboundMessage, senderID string) {
	log := util.Log(ctx).WithFields(map[string]any{
		"user_id":      senderID,
		"message_type": msg.Type,
	})

	handler, ok := r.handlers[msg.Type]
	if !ok {
		telemetry.MessagesDropped.Add(ctx, 1)
		log.Debug("Dropping frame with unknown type")
		return
	}

	ctx, span := telemetry.RouterTracer.Start(ctx, string(msg.Type))
	err := handler(ctx, msg, senderID)
	telemetry.RouterTracer.End(ctx, span, err)

	if err != nil {
		telemetry.MessagesDropped.Add(ctx, 1)
		log.WithError(err).WithField("error_type", "inbound.processing.error").Warn("Inbound processing error")
		return
	}
	telemetry.MessagesRouted.Add(ctx, 1)
}

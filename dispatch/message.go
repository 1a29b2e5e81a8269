package dispatch

import (
	"context"
	"encoding/json"

	"github.com/aethara/fabric-gateway/auth"
	"github.com/aethara/fabric-gateway/fabricerr"
	"github.com/aethara/fabric-gateway/messaging"
	"github.com/aethara/fabric-gateway/trace"
)

// fromAgent resolves the sending identity for a messaging operation: an
// explicit from_agent argument wins, falling back to the authenticated
// principal id so a caller cannot spoof another agent's identity without
// also supplying credentials for it.
func fromAgent(authCtx auth.Context, args map[string]any) (string, error) {
	if id, ok := stringArg(args, "from_agent"); ok && id != "" {
		if authCtx.PrincipalID != "" && id != authCtx.PrincipalID {
			return "", fabricerr.Newf(fabricerr.CodeAuthDenied, "from_agent %q does not match the authenticated principal", id)
		}
		return id, nil
	}
	if authCtx.PrincipalID != "" {
		return authCtx.PrincipalID, nil
	}
	return "", badInput("from_agent is required")
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fabricerr.Wrap(err, fabricerr.CodeBadInput)
	}
	return encoded, nil
}

func (d *Dispatcher) handleMessageSend(ctx context.Context, tr trace.Context, authCtx auth.Context, req Request) *Response {
	if d.bus == nil {
		return errorResponse(tr, messagingUnavailable())
	}
	toAgent, ok := stringArg(req.Args, "to_agent")
	if !ok || toAgent == "" {
		return errorResponse(tr, badInput("to_agent is required"))
	}
	from, err := fromAgent(authCtx, req.Args)
	if err != nil {
		return errorResponse(tr, err)
	}
	payload, err := encodePayload(req.Args["payload"])
	if err != nil {
		return errorResponse(tr, err)
	}
	messageType, _ := stringArg(req.Args, "message_type")
	replyTo, _ := stringArg(req.Args, "reply_to")
	correlationID, _ := stringArg(req.Args, "correlation_id")
	priority, _ := stringArg(req.Args, "priority")
	ttl, _ := int64Arg(req.Args, "ttl_seconds")

	id, err := d.bus.Send(ctx, messaging.Message{
		FromAgent:     from,
		ToAgent:       toAgent,
		MessageType:   messageType,
		Payload:       payload,
		Priority:      messaging.Priority(priority),
		TTLSeconds:    ttl,
		ReplyTo:       replyTo,
		CorrelationID: correlationID,
	})
	if err != nil {
		return errorResponse(tr, fabricerr.Wrap(err, fabricerr.CodeUpstreamError))
	}
	return okResponse(tr, map[string]any{"id": id})
}

func (d *Dispatcher) handleMessageReceive(ctx context.Context, tr trace.Context, req Request) *Response {
	if d.bus == nil {
		return errorResponse(tr, messagingUnavailable())
	}
	agentID, ok := stringArg(req.Args, "agent_id")
	if !ok || agentID == "" {
		return errorResponse(tr, badInput("agent_id is required"))
	}
	n := 10
	if v, ok := int64Arg(req.Args, "n"); ok && v > 0 {
		n = int(v)
	}

	var (
		msgs []messaging.Message
		err  error
	)
	group, hasGroup := stringArg(req.Args, "group")
	if hasGroup && group != "" {
		consumer, _ := stringArg(req.Args, "consumer")
		msgs, err = d.bus.ReceiveGroup(ctx, agentID, group, consumer, n)
	} else {
		msgs, err = d.bus.Receive(ctx, agentID, n)
	}
	if err != nil {
		return errorResponse(tr, fabricerr.Wrap(err, fabricerr.CodeUpstreamError))
	}
	return okResponse(tr, map[string]any{"messages": msgs})
}

func (d *Dispatcher) handleMessageAcknowledge(ctx context.Context, tr trace.Context, req Request) *Response {
	if d.bus == nil {
		return errorResponse(tr, messagingUnavailable())
	}
	agentID, ok := stringArg(req.Args, "agent_id")
	if !ok || agentID == "" {
		return errorResponse(tr, badInput("agent_id is required"))
	}
	ids := stringSliceArg(req.Args, "ids")
	if len(ids) == 0 {
		return errorResponse(tr, badInput("ids is required"))
	}

	var err error
	group, hasGroup := stringArg(req.Args, "group")
	if hasGroup && group != "" {
		err = d.bus.AckGroup(ctx, agentID, group, ids...)
	} else {
		err = d.bus.Ack(ctx, agentID, ids...)
	}
	if err != nil {
		return errorResponse(tr, fabricerr.Wrap(err, fabricerr.CodeUpstreamError))
	}
	return okResponse(tr, map[string]any{"acknowledged": ids})
}

func (d *Dispatcher) handleMessagePublish(ctx context.Context, tr trace.Context, authCtx auth.Context, req Request) *Response {
	if d.bus == nil {
		return errorResponse(tr, messagingUnavailable())
	}
	topic, ok := stringArg(req.Args, "topic")
	if !ok || topic == "" {
		return errorResponse(tr, badInput("topic is required"))
	}
	from, _ := stringArg(req.Args, "from_agent")
	if from == "" {
		from = authCtx.PrincipalID
	}
	data, err := encodePayload(req.Args["data"])
	if err != nil {
		return errorResponse(tr, err)
	}

	n, err := d.bus.Publish(ctx, topic, data, from)
	if err != nil {
		return errorResponse(tr, fabricerr.Wrap(err, fabricerr.CodeUpstreamError))
	}
	return okResponse(tr, map[string]any{"subscribers": n})
}

func (d *Dispatcher) handleMessageQueueStatus(ctx context.Context, tr trace.Context, req Request) *Response {
	if d.bus == nil {
		return errorResponse(tr, messagingUnavailable())
	}
	agentID, ok := stringArg(req.Args, "agent_id")
	if !ok || agentID == "" {
		return errorResponse(tr, badInput("agent_id is required"))
	}
	depth, err := d.bus.QueueDepth(ctx, agentID)
	if err != nil {
		return errorResponse(tr, fabricerr.Wrap(err, fabricerr.CodeUpstreamError))
	}
	return okResponse(tr, map[string]any{"agent_id": agentID, "depth": depth})
}

func messagingUnavailable() error {
	return fabricerr.New(fabricerr.CodeUpstreamError, "messaging layer is not configured")
}

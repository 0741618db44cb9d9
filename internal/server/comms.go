package server

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/epics-mcp-bridge/pkg/commsutil"
	"github.com/morezero/epics-mcp-bridge/pkg/dispatcher"
)

const defaultMaxInflight = 64

// SubscribeTools serves tool call envelopes on ToolSubject. Bridges sharing a
// SERVICE_NAME form a queue group, so each request is handled once.
//
// nats.go delivers a subscription's messages one at a time, so each call runs
// on its own goroutine; a slow PV must not hold up calls to other PVs. At most
// COMMS_MAX_INFLIGHT calls run at once, further messages wait in the callback.
func (s *Server) SubscribeTools(ctx context.Context) (*comms.Subscription, error) {
	if s.nc == nil {
		return nil, fmt.Errorf("%s - COMMS is not enabled", logPrefix)
	}
	limit := s.cfg.COMMSMaxInflight
	if limit <= 0 {
		limit = defaultMaxInflight
	}
	inflight := make(chan struct{}, limit)

	subject := s.ToolSubject()
	sub, err := s.nc.QueueSubscribe(subject, s.cfg.COMMSName, func(msg *comms.Msg) {
		select {
		case inflight <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-inflight }()
			s.handleToolMessage(ctx, msg)
		}()
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s (max %d in flight)", logPrefix, subject, limit))
	return sub, nil
}

func (s *Server) handleToolMessage(ctx context.Context, msg *comms.Msg) {
	var req dispatcher.ToolCallRequest
	if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
		respond(msg, &dispatcher.ToolCallResponse{
			Ok: false,
			Error: &dispatcher.ErrorDetail{
				Code:    dispatcher.CodeInvalidRequest,
				Message: "Failed to decode request",
			},
		})
		return
	}
	respond(msg, s.disp.Handle(ctx, &req))
}

func respond(msg *comms.Msg, resp *dispatcher.ToolCallResponse) {
	if msg.Reply == "" {
		return
	}
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode response: %v", logPrefix, err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to respond: %v", logPrefix, err))
	}
}

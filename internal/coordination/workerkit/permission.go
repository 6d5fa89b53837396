package workerkit

import (
	"context"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/protocol"
)

// RequestPermission is the synchronous worker-side permission RPC
// (§4.7): send a permission_request to the coordinator, then poll the
// inbox every pollInterval for a matching permission_response, and
// return its decision unchanged (MapDecision turns it into a boolean
// sandbox verdict). On deadline, returns protocol.DecisionTimeout
// (interpreted by callers as deny).
func (h *Handle) RequestPermission(ctx context.Context, taskID, action, resource string, reqCtx map[string]any, timeout time.Duration) (protocol.Decision, error) {
	requestID := newRequestID(h.AgentID)
	if err := h.requestPermissionAsync(ctx, requestID, taskID, action, resource, reqCtx); err != nil {
		return protocol.DecisionDeny, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.DecisionTimeout, nil
		}

		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		msgs, err := h.Context.WaitForMessages(ctx, wait, false)
		if err != nil {
			return protocol.DecisionTimeout, err
		}
		for _, rm := range msgs {
			resp, ok := rm.Message.(*protocol.PermissionResponse)
			if !ok || resp.RequestID != requestID {
				continue
			}
			return resp.Decision, nil
		}
	}
}

// RequestPermissionAsync sends the permission_request only; the caller
// is responsible for later inspecting the inbox for a matching
// request_id (e.g. via CheckInbox), supporting queue_on_timeout
// semantics where a late grant is still honored.
func (h *Handle) RequestPermissionAsync(ctx context.Context, taskID, action, resource string, reqCtx map[string]any) (string, error) {
	requestID := newRequestID(h.AgentID)
	return requestID, h.requestPermissionAsync(ctx, requestID, taskID, action, resource, reqCtx)
}

func (h *Handle) requestPermissionAsync(ctx context.Context, requestID, taskID, action, resource string, reqCtx map[string]any) error {
	return h.Context.SendToCoordinator(ctx, protocol.PermissionRequest{
		RequestID: requestID,
		TaskID:    taskID,
		AgentID:   h.AgentID,
		Action:    action,
		Resource:  resource,
		Context:   reqCtx,
		Timestamp: time.Now().UTC(),
	}, true)
}

// MapDecision maps a permission_response decision to a boolean sandbox
// verdict per §4.7: allow, always_tool and always_group -> true; deny,
// timeout and anything else -> false. The always_* distinction is not
// kept in the boolean; it is only available from the Decision itself,
// which RequestPermission returns unchanged.
func MapDecision(d protocol.Decision) bool {
	switch d {
	case protocol.DecisionAllow, protocol.DecisionAlwaysTool, protocol.DecisionAlwaysGroup:
		return true
	default:
		return false
	}
}

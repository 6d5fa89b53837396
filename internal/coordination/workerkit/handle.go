// Package workerkit implements the worker-side coordination tools
// (§4.6) and the permission RPC (§4.7, worker side). Unlike the
// original's module-global _worker_context, every tool method here
// hangs off an explicit *Handle threaded through the call site -- the
// §9 redesign note this module applies throughout.
package workerkit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/transport"
)

// pollInterval is how often the permission RPC re-polls the inbox
// while waiting for a matching response, per §4.7.
const pollInterval = 2 * time.Second

// Handle is the worker-side coordination service struct passed
// explicitly to every tool call. It owns the minimal local state
// (current task id) the worker loop needs between turns.
type Handle struct {
	Context *transport.Context
	AgentID string

	mu            sync.Mutex
	currentTaskID string
}

// New constructs a Handle for a bootstrapped worker.
func New(tc *transport.Context, agentID string) *Handle {
	return &Handle{Context: tc, AgentID: agentID}
}

// CurrentTaskID returns the task id set by the most recent Ack call,
// cleared on Result or MarkIdle.
func (h *Handle) CurrentTaskID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentTaskID
}

// CheckInbox polls the direct inbox only, non-blocking.
func (h *Handle) CheckInbox(ctx context.Context) ([]transport.ReceivedMessage, error) {
	return h.Context.Poll(ctx, false)
}

// Ack emits a task_ack and records the task as current.
func (h *Handle) Ack(ctx context.Context, taskID string) error {
	h.mu.Lock()
	h.currentTaskID = taskID
	h.mu.Unlock()
	return h.Context.SendToCoordinator(ctx, protocol.TaskAck{
		TaskID: taskID, AgentID: h.AgentID, AcknowledgedAt: time.Now().UTC(),
	}, true)
}

// Progress emits a progress report, broadcast to the room.
func (h *Handle) Progress(ctx context.Context, taskID, message string, progress *float64) error {
	return h.Context.Broadcast(ctx, protocol.Progress{
		TaskID: taskID, AgentID: h.AgentID, Progress: progress, Message: message, Timestamp: time.Now().UTC(),
	}, true)
}

// Result emits a task's terminal outcome to the coordinator and clears
// the current task.
func (h *Handle) Result(ctx context.Context, taskID string, status protocol.ResultStatus, data map[string]any, summary, errMsg string) error {
	h.mu.Lock()
	h.currentTaskID = ""
	h.mu.Unlock()
	return h.Context.SendToCoordinator(ctx, protocol.Result{
		TaskID: taskID, AgentID: h.AgentID, Status: status, Data: data, Summary: summary, Error: errMsg,
		Timestamp: time.Now().UTC(),
	}, true)
}

// Question emits a clarifying question to the coordinator.
func (h *Handle) Question(ctx context.Context, questionID, taskID, text string, qctx map[string]any) error {
	return h.Context.SendToCoordinator(ctx, protocol.Question{
		QuestionID: questionID, TaskID: taskID, AgentID: h.AgentID, Text: text, Context: qctx, Timestamp: time.Now().UTC(),
	}, true)
}

// MarkIdle broadcasts idle and clears the current task.
func (h *Handle) MarkIdle(ctx context.Context, completedTaskID string) error {
	h.mu.Lock()
	h.currentTaskID = ""
	h.mu.Unlock()
	return h.Context.Broadcast(ctx, protocol.Idle{
		AgentID: h.AgentID, CompletedTaskID: completedTaskID, AvailableSince: time.Now().UTC(),
	}, true)
}

// BroadcastStatus is a convenience Progress broadcast without a task id,
// used for free-form status updates outside any specific task.
func (h *Handle) BroadcastStatus(ctx context.Context, message string, progress *float64) error {
	return h.Context.Broadcast(ctx, protocol.Progress{
		AgentID: h.AgentID, Progress: progress, Message: message, Timestamp: time.Now().UTC(),
	}, true)
}

// PeerContentType tags peer-to-peer payloads sent by SendToWorker and
// SendToRoom, opaque to the coordination codec (a distinct content-type
// so the coordinator's own parser never attempts to interpret it).
const PeerContentType = "application/vnd.silica.peer+json"

// SendToWorker posts a raw peer payload to another worker's inbox.
func (h *Handle) SendToWorker(ctx context.Context, toIdentityID string, payload []byte) error {
	_, err := h.Context.Bus.SendMessage(ctx, h.Context.NsID, h.Context.IdentitySecret, toIdentityID, payload, PeerContentType)
	return err
}

// SendToRoom posts a raw peer payload to a collaboration room.
func (h *Handle) SendToRoom(ctx context.Context, roomID string, payload []byte) error {
	_, err := h.Context.Bus.SendRoomMessage(ctx, h.Context.NsID, roomID, h.Context.IdentitySecret, payload, PeerContentType)
	return err
}

// GetRoomMessages fetches raw envelopes from a collaboration room since
// afterMID, without coordination-codec decoding.
func (h *Handle) GetRoomMessages(ctx context.Context, roomID, afterMID string) ([]bus.Envelope, error) {
	return h.Context.Bus.GetRoomMessages(ctx, h.Context.NsID, roomID, h.Context.IdentitySecret, afterMID)
}

// CreateCollaborationRoom creates a new room and invites the given peer
// identities into it.
func (h *Handle) CreateCollaborationRoom(ctx context.Context, displayName string, peerIdentityIDs []string) (string, error) {
	roomID, err := h.Context.Bus.CreateRoom(ctx, h.Context.NsID, h.Context.IdentitySecret, displayName)
	if err != nil {
		return "", err
	}
	if err := h.Context.Bus.AddRoomMember(ctx, h.Context.NsID, roomID, h.Context.IdentityID, h.Context.IdentitySecret); err != nil {
		return "", err
	}
	for _, peer := range peerIdentityIDs {
		if err := h.Context.Bus.AddRoomMember(ctx, h.Context.NsID, roomID, peer, h.Context.IdentitySecret); err != nil {
			return "", fmt.Errorf("invite %s: %w", peer, err)
		}
	}
	return roomID, nil
}

// newRequestID generates the "<agent_id>-perm-<random8>" format §4.7
// specifies -- distinct from the original's bare uuid4()[:8].
func newRequestID(agentID string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s-perm-%s", agentID, hex.EncodeToString(buf))
}

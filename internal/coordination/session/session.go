// Package session implements the coordinator side of §4.4: namespace,
// coordinator identity, and coordination room creation; agent spawning
// and invite generation; and the minimal on-disk state that lets a
// restarted coordinator process resume against the same namespace.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/registry"
	"github.com/leapmux/leapmux/internal/coordination/transport"
)

// PersistedState is the minimal durable record (§4.4) that lets a
// coordinator restart against the same namespace and reuse identities.
type PersistedState struct {
	NsID              string `json:"ns_id"`
	NsSecret          string `json:"ns_secret"`
	CoordinatorID     string `json:"coordinator_id"`
	CoordinatorSecret string `json:"coordinator_secret"`
	RoomID            string `json:"room_id"`
}

// Session is the coordinator's runtime handle: its own transport
// context plus the registry and pending-permission queue it owns.
type Session struct {
	Bus     bus.Bus
	Context *transport.Context
	State   PersistedState

	Registry *registry.Manager
	Pending  *registry.PendingPermissions

	stateDir string
}

// Create provisions a brand new namespace, coordinator identity, and
// coordination room. The coordinator itself is not added to the agent
// registry; the registry holds only agents added by SpawnAgent.
func Create(ctx context.Context, b bus.Bus, displayName, stateDir string, staleAfter time.Duration) (*Session, error) {
	ns, err := b.CreateNamespace(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("create namespace: %w", err)
	}
	coordIdent, err := b.CreateIdentity(ctx, ns.NsID, displayName+"-coordinator", ns.NsSecret)
	if err != nil {
		return nil, fmt.Errorf("create coordinator identity: %w", err)
	}
	roomID, err := b.CreateRoom(ctx, ns.NsID, coordIdent.Secret, displayName+"-room")
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	if err := b.AddRoomMember(ctx, ns.NsID, roomID, coordIdent.ID, coordIdent.Secret); err != nil {
		return nil, fmt.Errorf("join own room: %w", err)
	}

	state := PersistedState{
		NsID:              ns.NsID,
		NsSecret:          ns.NsSecret,
		CoordinatorID:     coordIdent.ID,
		CoordinatorSecret: coordIdent.Secret,
		RoomID:            roomID,
	}

	s := newSession(b, state, stateDir, staleAfter)
	if stateDir != "" {
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("persist session state: %w", err)
		}
	}
	return s, nil
}

// Load reconstructs a Session from persisted state, allowing a
// restarted coordinator process to resume against the same namespace
// and identities (§4.4, §8 S4).
func Load(b bus.Bus, stateDir string, staleAfter time.Duration) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, "coordinator.json"))
	if err != nil {
		return nil, err
	}
	var state PersistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse persisted session state: %w", err)
	}
	return newSession(b, state, stateDir, staleAfter), nil
}

func newSession(b bus.Bus, state PersistedState, stateDir string, staleAfter time.Duration) *Session {
	tc := transport.New(b, state.NsID, state.CoordinatorID, state.CoordinatorSecret)
	tc.NsSecret = state.NsSecret
	tc.RoomID = state.RoomID
	return &Session{
		Bus:      b,
		Context:  tc,
		State:    state,
		Registry: registry.New(staleAfter),
		Pending:  registry.NewPendingPermissions(0),
		stateDir: stateDir,
	}
}

func (s *Session) save() error {
	if s.stateDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.stateDir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.State, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.stateDir, "coordinator.json"), data, 0o600)
}

// SpawnedAgent is the result of spawning a new worker identity.
type SpawnedAgent struct {
	AgentID   string
	IdentityID string
	InviteURL string
}

// SpawnAgent creates a new identity, adds it to the coordination room,
// registers it in the agent registry (state "spawning"), and returns an
// invite URL whose claim resolves to this session's room and
// coordinator identity per §4.4.
func (s *Session) SpawnAgent(ctx context.Context, displayName, workspaceName, agentID string) (*SpawnedAgent, error) {
	ident, err := s.Bus.CreateIdentity(ctx, s.State.NsID, displayName, s.State.NsSecret)
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	if err := s.Bus.AddRoomMember(ctx, s.State.NsID, s.State.RoomID, ident.ID, ident.Secret); err != nil {
		return nil, fmt.Errorf("add room member: %w", err)
	}
	inviteURL, err := s.Bus.CreateInvite(ctx, s.State.NsID, ident.ID, ident.Secret, s.State.NsSecret,
		s.State.RoomID, s.State.CoordinatorID, displayName)
	if err != nil {
		return nil, fmt.Errorf("create invite: %w", err)
	}

	s.Registry.Register(agentID, ident.ID, displayName, workspaceName)

	return &SpawnedAgent{AgentID: agentID, IdentityID: ident.ID, InviteURL: inviteURL}, nil
}

// GrantPermission answers a pending permission request: sends a
// PermissionResponse to the requesting worker and marks the pending
// entry granted or denied.
func (s *Session) GrantPermission(ctx context.Context, workerInboxID, requestID string, decision protocol.Decision, reason string) error {
	if !s.Pending.Resolve(requestID, decision, reason) {
		return fmt.Errorf("no pending permission request %s", requestID)
	}
	return s.Context.Send(ctx, workerInboxID, protocol.PermissionResponse{
		RequestID: requestID,
		Decision:  decision,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}, true)
}

// ObserveMessage feeds a received coordination message into the
// registry/pending-permission state machines (§4.4). It does not send
// anything; callers still decide whether/when to auto-grant.
func (s *Session) ObserveMessage(rm transport.ReceivedMessage) {
	switch m := rm.Message.(type) {
	case *protocol.Idle:
		s.Registry.ObserveIdle(m.AgentID, m.CompletedTaskID)
	case *protocol.TaskAck:
		s.Registry.ObserveTaskAck(m.AgentID, m.TaskID)
	case *protocol.Progress:
		s.Registry.ObserveProgress(m.AgentID)
	case *protocol.Result:
		s.Registry.ObserveResult(m.AgentID, string(m.Status))
		if m.Status == protocol.StatusTerminated {
			s.Registry.ObserveDead(m.AgentID)
		}
	case *protocol.PermissionRequest:
		s.Pending.Register(*m)
	}
}

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/coordination/bootstrap"
	"github.com/leapmux/leapmux/internal/coordination/bus"
	"github.com/leapmux/leapmux/internal/coordination/bus/localbus"
	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/registry"
	"github.com/leapmux/leapmux/internal/coordination/session"
	"github.com/leapmux/leapmux/internal/coordination/transport"
	"github.com/leapmux/leapmux/internal/coordination/workerkit"
)

// observeNext drains whatever new inbox/room messages have accumulated
// for the coordinator's own context and feeds each into sess, mirroring
// what a coordination loop does between turns.
func observeNext(t *testing.T, sess *session.Session) []transport.ReceivedMessage {
	t.Helper()
	msgs, err := sess.Context.Receive(context.Background(), true, true)
	require.NoError(t, err)
	for _, rm := range msgs {
		sess.ObserveMessage(rm)
	}
	return msgs
}

func floatPtr(v float64) *float64 { return &v }

// bootstrapEmbeddedWorker spawns a worker identity on sess and claims its
// invite against the same in-process bus, the pattern cmd/coordhub's
// standalone subcommand uses to run a coordinator and worker together.
func bootstrapEmbeddedWorker(t *testing.T, ctx context.Context, b bus.Bus, sess *session.Session, agentID string) (*bootstrap.Result, *workerkit.Handle) {
	t.Helper()
	spawned, err := sess.SpawnAgent(ctx, agentID, "default", agentID)
	require.NoError(t, err)

	openLocal := func(string) (bus.Bus, error) { return b, nil }
	result, err := bootstrap.Bootstrap(ctx, spawned.InviteURL, "", spawned.AgentID, openLocal)
	require.NoError(t, err)

	// The invite must resolve to this session's room and coordinator, not
	// leave them to be recovered from a discarded query string.
	require.Equal(t, sess.State.RoomID, result.RoomID)
	require.Equal(t, sess.State.CoordinatorID, result.CoordinatorID)
	require.Equal(t, sess.State.RoomID, result.Context.RoomID)
	require.Equal(t, sess.State.CoordinatorID, result.Context.CoordinatorID)

	return result, workerkit.New(result.Context, spawned.AgentID)
}

// TestWorkerLifecycle_ReachesIdleAfterTaskCompletion drives a spawned
// worker through idle -> ack -> progress -> result -> idle against a
// real session and localbus, the coordinator+worker pairing
// cmd/coordhub's standalone subcommand runs.
func TestWorkerLifecycle_ReachesIdleAfterTaskCompletion(t *testing.T) {
	ctx := context.Background()
	b := localbus.New()

	sess, err := session.Create(ctx, b, "coord", "", time.Hour)
	require.NoError(t, err)

	result, h := bootstrapEmbeddedWorker(t, ctx, b, sess, "w-001")

	require.NoError(t, h.MarkIdle(ctx, ""))
	msgs := observeNext(t, sess)
	require.Len(t, msgs, 1)
	// The envelope's FromID must be the worker's public identity, never
	// its secret.
	assert.Equal(t, result.Context.IdentityID, msgs[0].FromID)
	assert.NotEqual(t, result.Context.IdentitySecret, msgs[0].FromID)

	require.NoError(t, sess.Context.Send(ctx, result.Context.IdentityID, &protocol.TaskAssign{
		TaskID: "t1", Description: "count",
	}, true))

	inbox, err := h.CheckInbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assign, ok := inbox[0].Message.(*protocol.TaskAssign)
	require.True(t, ok)
	assert.Equal(t, "t1", assign.TaskID)

	require.NoError(t, h.Ack(ctx, assign.TaskID))
	observeNext(t, sess)

	for _, p := range []float64{0.33, 0.66, 1.0} {
		require.NoError(t, h.Progress(ctx, assign.TaskID, "", floatPtr(p)))
		observeNext(t, sess)
	}

	require.NoError(t, h.Result(ctx, assign.TaskID, protocol.StatusComplete, nil, "done", ""))
	observeNext(t, sess)

	require.NoError(t, h.MarkIdle(ctx, assign.TaskID))
	observeNext(t, sess)

	rec := sess.Registry.Get("w-001")
	require.NotNil(t, rec)
	assert.Equal(t, registry.StateIdle, rec.State)
	assert.Empty(t, rec.CurrentTaskID)
	assert.Equal(t, string(protocol.StatusComplete), rec.LastTaskStatus)
}

// TestRequestPermission_GrantedWithinTimeout has the worker block on a
// permission RPC while the coordinator observes the pending request and
// grants it before the deadline.
func TestRequestPermission_GrantedWithinTimeout(t *testing.T) {
	ctx := context.Background()
	b := localbus.New()

	sess, err := session.Create(ctx, b, "coord", "", time.Hour)
	require.NoError(t, err)

	_, h := bootstrapEmbeddedWorker(t, ctx, b, sess, "w-001")

	type outcome struct {
		decision protocol.Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := h.RequestPermission(ctx, "t1", "shell", "rm -rf /tmp/x", nil, 5*time.Second)
		done <- outcome{d, err}
	}()

	var pending []registry.PendingPermission
	require.Eventually(t, func() bool {
		observeNext(t, sess)
		pending = sess.Pending.List()
		return len(pending) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, sess.GrantPermission(ctx, h.Context.IdentityID, pending[0].RequestID, protocol.DecisionAllow, "ok"))

	select {
	case o := <-done:
		require.NoError(t, o.err)
		assert.Equal(t, protocol.DecisionAllow, o.decision)
	case <-time.After(5 * time.Second):
		t.Fatal("permission request never returned")
	}
}

// TestRequestPermission_TimesOutWithoutResponse mirrors the grant test
// but the coordinator never answers; the worker's call must resolve to
// a deny-equivalent timeout rather than blocking forever.
func TestRequestPermission_TimesOutWithoutResponse(t *testing.T) {
	ctx := context.Background()
	b := localbus.New()

	sess, err := session.Create(ctx, b, "coord", "", time.Hour)
	require.NoError(t, err)

	_, h := bootstrapEmbeddedWorker(t, ctx, b, sess, "w-001")

	decision, err := h.RequestPermission(ctx, "t1", "shell", "rm -rf /tmp/x", nil, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, protocol.DecisionTimeout, decision)
	assert.False(t, workerkit.MapDecision(decision))
}

// TestSessionLoad_ResumesTransportAfterRestart persists a session,
// reconstructs it from disk as a fresh process would, and checks the new
// Session can still reach the already-bootstrapped worker over the same
// namespace, room, and coordinator identity.
func TestSessionLoad_ResumesTransportAfterRestart(t *testing.T) {
	ctx := context.Background()
	b := localbus.New()
	stateDir := t.TempDir()

	sess1, err := session.Create(ctx, b, "coord", stateDir, time.Hour)
	require.NoError(t, err)

	_, h := bootstrapEmbeddedWorker(t, ctx, b, sess1, "w-001")
	require.NoError(t, h.MarkIdle(ctx, ""))
	observeNext(t, sess1)

	sess2, err := session.Load(b, stateDir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, sess1.State, sess2.State)
	// A reloaded Session starts with empty cursors, so its first receive
	// replays the room backlog (the worker's earlier idle broadcast).
	observeNext(t, sess2)

	require.NoError(t, sess2.Context.Send(ctx, h.Context.IdentityID, &protocol.TaskAssign{TaskID: "t2"}, true))

	inbox, err := h.CheckInbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assign, ok := inbox[0].Message.(*protocol.TaskAssign)
	require.True(t, ok)
	assert.Equal(t, "t2", assign.TaskID)

	require.NoError(t, h.Ack(ctx, assign.TaskID))
	msgs := observeNext(t, sess2)
	require.Len(t, msgs, 1)
	ack, ok := msgs[0].Message.(*protocol.TaskAck)
	require.True(t, ok)
	assert.Equal(t, "t2", ack.TaskID)
	assert.Equal(t, h.Context.IdentityID, msgs[0].FromID)
}

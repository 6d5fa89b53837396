package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/coordination/registry"
)

func TestPendingPermissions_RegisterStartsPending(t *testing.T) {
	p := registry.NewPendingPermissions(time.Minute)
	entry := p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1", Action: "execute", Resource: "rm -rf /tmp/x"})
	assert.Equal(t, registry.PermissionPending, entry.Status)
	assert.Equal(t, "req-1", p.Get("req-1").RequestID)
}

func TestPendingPermissions_ResolveGrantsOnAllowDecisions(t *testing.T) {
	for _, decision := range []protocol.Decision{protocol.DecisionAllow, protocol.DecisionAlwaysTool, protocol.DecisionAlwaysGroup} {
		p := registry.NewPendingPermissions(time.Minute)
		p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})

		ok := p.Resolve("req-1", decision, "")
		require.True(t, ok)
		assert.Equal(t, registry.PermissionGranted, p.Get("req-1").Status)
	}
}

func TestPendingPermissions_ResolveDeniesOnOtherDecisions(t *testing.T) {
	p := registry.NewPendingPermissions(time.Minute)
	p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})

	ok := p.Resolve("req-1", protocol.DecisionDeny, "not allowed")
	require.True(t, ok)
	got := p.Get("req-1")
	assert.Equal(t, registry.PermissionDenied, got.Status)
	assert.Equal(t, "not allowed", got.Reason)
}

func TestPendingPermissions_ResolveRejectsUnknownOrTerminal(t *testing.T) {
	p := registry.NewPendingPermissions(time.Minute)
	assert.False(t, p.Resolve("ghost", protocol.DecisionAllow, ""))

	p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})
	require.True(t, p.Resolve("req-1", protocol.DecisionAllow, ""))
	assert.False(t, p.Resolve("req-1", protocol.DecisionDeny, ""), "a resolved request cannot be resolved again")
}

func TestPendingPermissions_SweepExpiredTransitionsAndPrunes(t *testing.T) {
	p := registry.NewPendingPermissions(10 * time.Millisecond)
	p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})

	time.Sleep(25 * time.Millisecond)

	expired := p.SweepExpired()
	require.Equal(t, []string{"req-1"}, expired)

	assert.Nil(t, p.Get("req-1"), "terminal entries are pruned from the map after the sweep that expires them")
}

func TestPendingPermissions_SweepExpiredPrunesGrantedEntries(t *testing.T) {
	p := registry.NewPendingPermissions(time.Minute)
	p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})
	require.True(t, p.Resolve("req-1", protocol.DecisionAllow, ""))

	expired := p.SweepExpired()
	assert.Empty(t, expired, "a granted entry does not count as newly expired")
	assert.Nil(t, p.Get("req-1"), "terminal entries are still pruned from the map")
}

func TestPendingPermissions_ListReturnsAllRegardlessOfStatus(t *testing.T) {
	p := registry.NewPendingPermissions(time.Minute)
	p.Register(protocol.PermissionRequest{RequestID: "req-1", AgentID: "agent-1"})
	p.Register(protocol.PermissionRequest{RequestID: "req-2", AgentID: "agent-2"})
	require.True(t, p.Resolve("req-1", protocol.DecisionAllow, ""))

	got := p.List()
	assert.Len(t, got, 2)
}

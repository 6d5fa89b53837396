package registry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/coordination/registry"
)

func TestRegister_StartsSpawningAndSanitizesDisplayName(t *testing.T) {
	m := registry.New(5 * time.Minute)
	r := m.Register("agent-1", "ident-1", "worker\x07one", "ws-a")
	assert.Equal(t, registry.StateSpawning, r.State)
	assert.Equal(t, "workerone", r.DisplayName, "control characters must be stripped")
}

func TestLifecycle_TracksObservedTransitions(t *testing.T) {
	m := registry.New(5 * time.Minute)
	m.Register("agent-1", "ident-1", "worker-1", "ws-a")

	m.ObserveIdle("agent-1", "")
	assert.Equal(t, registry.StateIdle, m.Get("agent-1").State)

	m.ObserveTaskAssign("agent-1", "task-1")
	got := m.Get("agent-1")
	assert.Equal(t, registry.StateAssigned, got.State)
	assert.Equal(t, "task-1", got.CurrentTaskID)

	m.ObserveTaskAck("agent-1", "task-1")
	assert.Equal(t, registry.StateWorking, m.Get("agent-1").State)

	m.ObserveResult("agent-1", "complete")
	got = m.Get("agent-1")
	assert.Equal(t, registry.StateIdle, got.State)
	assert.Equal(t, "complete", got.LastTaskStatus)
	assert.Empty(t, got.CurrentTaskID)

	m.ObserveTerminating("agent-1")
	assert.Equal(t, registry.StateTerminating, m.Get("agent-1").State)

	m.ObserveDead("agent-1")
	assert.Equal(t, registry.StateDead, m.Get("agent-1").State)
}

func TestObserve_UnknownAgentIsANoop(t *testing.T) {
	m := registry.New(5 * time.Minute)
	m.ObserveIdle("ghost", "")
	assert.Nil(t, m.Get("ghost"))
}

func TestSweepStale_DeadensSilentNonTerminalAgents(t *testing.T) {
	m := registry.New(10 * time.Millisecond)
	m.Register("agent-1", "ident-1", "worker-1", "ws-a")
	m.ObserveIdle("agent-1", "")

	time.Sleep(25 * time.Millisecond)

	dead := m.SweepStale()
	require.Len(t, dead, 1)
	assert.Equal(t, "agent-1", dead[0])
	assert.Equal(t, registry.StateDead, m.Get("agent-1").State)
}

func TestSweepStale_SkipsAlreadyTerminalAgents(t *testing.T) {
	m := registry.New(10 * time.Millisecond)
	m.Register("agent-1", "ident-1", "worker-1", "ws-a")
	m.ObserveDead("agent-1")

	time.Sleep(25 * time.Millisecond)

	dead := m.SweepStale()
	assert.Empty(t, dead, "an already-dead agent should not be reported again")
}

func TestList_ReturnsSnapshotNotLiveReferences(t *testing.T) {
	m := registry.New(5 * time.Minute)
	m.Register("agent-1", "ident-1", "worker-1", "ws-a")

	snap := m.List()
	require.Len(t, snap, 1)

	m.ObserveIdle("agent-1", "")
	assert.Equal(t, registry.StateSpawning, snap[0].State, "snapshot must not mutate after later observes")
}

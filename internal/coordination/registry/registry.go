// Package registry implements the coordinator-side agent registry
// (§4.4): state owned exclusively by the coordinator process, derived
// from messages the coordinator observes rather than mutated directly
// by workers. Grounded on the teacher's workermgr.Manager in-memory
// mutex-guarded connection map, adapted from "live connections" to
// "observed agent lifecycle state".
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/leapmux/leapmux/internal/metrics"
	"github.com/leapmux/leapmux/internal/util/sanitize"
	"github.com/leapmux/leapmux/internal/util/timefmt"
)

const maxDisplayNameLen = 200

// State is an agent's lifecycle state as the coordinator understands it.
type State string

const (
	StateSpawning    State = "spawning"
	StateIdle        State = "idle"
	StateAssigned    State = "assigned"
	StateWorking     State = "working"
	StateTerminating State = "terminating"
	StateDead        State = "dead"
)

// LastTaskStatus mirrors the most recent Result.Status seen for this
// agent, or "" if none yet.
type Record struct {
	AgentID        string
	IdentityID     string
	DisplayName    string
	WorkspaceName  string
	State          State
	LastSeen       time.Time
	CurrentTaskID  string
	LastTaskStatus string
}

// MarshalJSON renders LastSeen with the wire's explicit millisecond
// ISO-8601 format rather than time.Time's default RFC3339Nano, so admin
// API consumers get the same timestamp shape as the bus protocol.
func (r Record) MarshalJSON() ([]byte, error) {
	type wire struct {
		AgentID        string `json:"agent_id"`
		IdentityID     string `json:"identity_id"`
		DisplayName    string `json:"display_name"`
		WorkspaceName  string `json:"workspace_name"`
		State          State  `json:"state"`
		LastSeen       string `json:"last_seen"`
		CurrentTaskID  string `json:"current_task_id,omitempty"`
		LastTaskStatus string `json:"last_task_status,omitempty"`
	}
	return json.Marshal(wire{
		AgentID:        r.AgentID,
		IdentityID:     r.IdentityID,
		DisplayName:    r.DisplayName,
		WorkspaceName:  r.WorkspaceName,
		State:          r.State,
		LastSeen:       timefmt.Format(r.LastSeen),
		CurrentTaskID:  r.CurrentTaskID,
		LastTaskStatus: r.LastTaskStatus,
	})
}

// Manager tracks every known agent's registry record, mutex-guarded like
// workermgr.Manager's connection map.
type Manager struct {
	mu      sync.Mutex
	records map[string]*Record
	// staleness is how long without an observed message before an agent
	// is considered dead by the sweep.
	staleness time.Duration
}

// New constructs an empty registry. staleAfter is the no-heartbeat
// window (§4.4) after which SweepStale marks an agent dead.
func New(staleAfter time.Duration) *Manager {
	return &Manager{records: make(map[string]*Record), staleness: staleAfter}
}

// refreshActiveGaugeLocked recomputes the ActiveAgents gauge. Caller
// must hold m.mu.
func (m *Manager) refreshActiveGaugeLocked() {
	count := 0
	for _, r := range m.records {
		if r.State != StateDead {
			count++
		}
	}
	metrics.ActiveAgents.Set(float64(count))
}

// Register adds a newly spawned agent in the "spawning" state.
func (m *Manager) Register(agentID, identityID, displayName, workspaceName string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &Record{
		AgentID:       agentID,
		IdentityID:    identityID,
		DisplayName:   sanitize.Title(displayName, maxDisplayNameLen),
		WorkspaceName: workspaceName,
		State:         StateSpawning,
		LastSeen:      time.Now(),
	}
	m.records[agentID] = r
	m.refreshActiveGaugeLocked()
	return r
}

// Get returns the record for agentID, or nil if unknown.
func (m *Manager) Get(agentID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// List returns a snapshot of all known records.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

// ObserveIdle applies the "idle" transition: state -> idle, clears the
// current task, and refreshes LastSeen. completedTaskID is not used;
// the last task's status is recorded by ObserveResult.
func (m *Manager) ObserveIdle(agentID string, completedTaskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateIdle
	r.CurrentTaskID = ""
	r.LastSeen = time.Now()
	_ = completedTaskID
	m.refreshActiveGaugeLocked()
}

// ObserveTaskAssign applies the "task_assign" transition: idle -> assigned.
func (m *Manager) ObserveTaskAssign(agentID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateAssigned
	r.CurrentTaskID = taskID
	r.LastSeen = time.Now()
}

// ObserveTaskAck applies the "task_ack" transition: assigned -> working.
func (m *Manager) ObserveTaskAck(agentID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateWorking
	r.CurrentTaskID = taskID
	r.LastSeen = time.Now()
}

// ObserveProgress keeps the agent in "working" and refreshes LastSeen.
func (m *Manager) ObserveProgress(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.LastSeen = time.Now()
}

// ObserveResult applies the "result" transition: working -> idle, and
// records the task's terminal status.
func (m *Manager) ObserveResult(agentID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateIdle
	r.CurrentTaskID = ""
	r.LastTaskStatus = status
	r.LastSeen = time.Now()
}

// ObserveTerminating marks an agent terminating ahead of its final result.
func (m *Manager) ObserveTerminating(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateTerminating
	r.LastSeen = time.Now()
}

// ObserveDead marks an agent dead after a terminated result.
func (m *Manager) ObserveDead(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[agentID]
	if !ok {
		return
	}
	r.State = StateDead
	r.LastSeen = time.Now()
	m.refreshActiveGaugeLocked()
}

// SweepStale marks any non-terminal agent dead if it hasn't been
// observed within the configured staleness window.
func (m *Manager) SweepStale() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deadened []string
	cutoff := time.Now().Add(-m.staleness)
	for id, r := range m.records {
		if r.State == StateDead || r.State == StateTerminating {
			continue
		}
		if r.LastSeen.Before(cutoff) {
			r.State = StateDead
			deadened = append(deadened, id)
		}
	}
	if len(deadened) > 0 {
		m.refreshActiveGaugeLocked()
	}
	return deadened
}

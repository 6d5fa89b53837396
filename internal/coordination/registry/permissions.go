package registry

import (
	"sync"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/protocol"
	"github.com/leapmux/leapmux/internal/metrics"
)

// PermissionStatus is the coordinator-side lifecycle of a pending
// permission request (§4.7): pending -> {granted | denied | expired}, terminal.
type PermissionStatus string

const (
	PermissionPending PermissionStatus = "pending"
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
	PermissionExpired PermissionStatus = "expired"
)

// PendingPermission mirrors §3's pending-permission record.
type PendingPermission struct {
	RequestID  string
	AgentID    string
	Action     string
	Resource   string
	Context    map[string]any
	ReceivedAt time.Time
	Status     PermissionStatus
	Reason     string
}

// DefaultPermissionTTL resolves the open question in §9: the source
// does not fix a TTL, so this module defaults to 10 minutes, a window
// generous enough for a human to act on a grant request without
// keeping an unbounded backlog of abandoned requests.
const DefaultPermissionTTL = 10 * time.Minute

// PendingPermissions tracks in-flight permission requests the
// coordinator has not yet answered, keyed by request_id. Grounded on
// workermgr.PendingRequests, adapted from a one-shot channel wait (a
// direct RPC style) to a persistent queue serviced asynchronously by
// inbox messages, because grants here arrive as ordinary
// PermissionResponse sends, not as a response to a blocking call the
// coordinator itself issued.
type PendingPermissions struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]*PendingPermission
}

// NewPendingPermissions constructs a queue with the given TTL. A zero
// ttl uses DefaultPermissionTTL.
func NewPendingPermissions(ttl time.Duration) *PendingPermissions {
	if ttl <= 0 {
		ttl = DefaultPermissionTTL
	}
	return &PendingPermissions{ttl: ttl, m: make(map[string]*PendingPermission)}
}

// refreshPendingGaugeLocked recomputes the PendingPermissions gauge.
// Caller must hold p.mu.
func (p *PendingPermissions) refreshPendingGaugeLocked() {
	count := 0
	for _, e := range p.m {
		if e.Status == PermissionPending {
			count++
		}
	}
	metrics.PendingPermissions.Set(float64(count))
}

// Register appends an incoming PermissionRequest to the queue.
func (p *PendingPermissions) Register(req protocol.PermissionRequest) *PendingPermission {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := &PendingPermission{
		RequestID:  req.RequestID,
		AgentID:    req.AgentID,
		Action:     req.Action,
		Resource:   req.Resource,
		Context:    req.Context,
		ReceivedAt: time.Now(),
		Status:     PermissionPending,
	}
	p.m[req.RequestID] = entry
	p.refreshPendingGaugeLocked()
	return entry
}

// Get returns the entry for requestID, or nil if unknown.
func (p *PendingPermissions) Get(requestID string) *PendingPermission {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[requestID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Resolve marks requestID granted or denied. Returns false if the
// request is unknown or already in a terminal state.
func (p *PendingPermissions) Resolve(requestID string, decision protocol.Decision, reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[requestID]
	if !ok || e.Status != PermissionPending {
		return false
	}
	e.Reason = reason
	switch decision {
	case protocol.DecisionAllow, protocol.DecisionAlwaysTool, protocol.DecisionAlwaysGroup:
		e.Status = PermissionGranted
	default:
		e.Status = PermissionDenied
	}
	metrics.PermissionRequestsTotal.WithLabelValues(string(e.Status)).Inc()
	p.refreshPendingGaugeLocked()
	return true
}

// SweepExpired transitions any pending entry older than the TTL to
// expired and prunes terminal entries from the map entirely, returning
// the request ids that expired this sweep.
func (p *PendingPermissions) SweepExpired() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.ttl)
	var expired []string
	for id, e := range p.m {
		if e.Status == PermissionPending && e.ReceivedAt.Before(cutoff) {
			e.Status = PermissionExpired
			expired = append(expired, id)
			metrics.PermissionRequestsTotal.WithLabelValues(string(PermissionExpired)).Inc()
		}
		if e.Status != PermissionPending {
			delete(p.m, id)
		}
	}
	if len(expired) > 0 {
		p.refreshPendingGaugeLocked()
	}
	return expired
}

// List returns a snapshot of all tracked entries, regardless of status.
func (p *PendingPermissions) List() []PendingPermission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingPermission, 0, len(p.m))
	for _, e := range p.m {
		out = append(out, *e)
	}
	return out
}

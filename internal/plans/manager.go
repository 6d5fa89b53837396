package plans

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Manager manages plan storage and lifecycle transitions, grounded on
// original_source/silica/developer/plans.py's PlanManager. Plans live
// as markdown files under baseDir/plans/{active,completed}.
type Manager struct {
	baseDir      string
	activeDir    string
	completedDir string
}

// NewManager creates a Manager rooted at baseDir, creating the active
// and completed subdirectories if they do not already exist.
func NewManager(baseDir string) (*Manager, error) {
	m := &Manager{
		baseDir:      baseDir,
		activeDir:    filepath.Join(baseDir, "plans", "active"),
		completedDir: filepath.Join(baseDir, "plans", "completed"),
	}
	if err := os.MkdirAll(m.activeDir, 0o750); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.completedDir, 0o750); err != nil {
		return nil, err
	}
	return m, nil
}

// CreatePlan creates and persists a new draft plan.
func (m *Manager) CreatePlan(title, sessionID, context, rootDir string) (*Plan, error) {
	now := time.Now().UTC()
	p := &Plan{
		ID:        newShortID(),
		Title:     title,
		Status:    StatusDraft,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
		RootDir:   rootDir,
		Context:   context,
	}
	p.AddProgress(fmt.Sprintf("Plan created: %s", title))
	if err := m.savePlan(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPlan looks up a plan by id, checking active plans before completed ones.
func (m *Manager) GetPlan(planID string) (*Plan, error) {
	for _, dir := range []string{m.activeDir, m.completedDir} {
		path := filepath.Join(dir, planID+".md")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return FromMarkdown(string(data))
	}
	return nil, fmt.Errorf("plans: plan %q not found", planID)
}

// UpdatePlan persists changes to an existing plan.
func (m *Manager) UpdatePlan(p *Plan) error {
	p.UpdatedAt = time.Now().UTC()
	return m.savePlan(p)
}

// ListActivePlans returns non-terminal plans, newest-updated first. If
// rootDir is non-empty, only plans for that project root are returned.
func (m *Manager) ListActivePlans(rootDir string) ([]*Plan, error) {
	return m.listDir(m.activeDir, rootDir, 0)
}

// ListCompletedPlans returns completed/abandoned plans, newest-updated
// first, capped at limit (0 means unlimited). If rootDir is non-empty,
// only plans for that project root are returned.
func (m *Manager) ListCompletedPlans(limit int, rootDir string) ([]*Plan, error) {
	return m.listDir(m.completedDir, rootDir, limit)
}

func (m *Manager) listDir(dir, rootDir string, limit int) ([]*Plan, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Plan
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		p, err := FromMarkdown(string(data))
		if err != nil {
			continue
		}
		if rootDir != "" && filepath.Clean(p.RootDir) != filepath.Clean(rootDir) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SubmitForReview moves a draft plan to in-review.
func (m *Manager) SubmitForReview(planID string) error {
	return m.transition(planID, StatusDraft, StatusInReview, "Plan submitted for review")
}

// ApprovePlan moves an in-review plan to approved.
func (m *Manager) ApprovePlan(planID string) error {
	return m.transition(planID, StatusInReview, StatusApproved, "Plan approved for execution")
}

// StartExecution moves an approved plan to in-progress.
func (m *Manager) StartExecution(planID string) error {
	return m.transition(planID, StatusApproved, StatusInProgress, "Plan execution started")
}

func (m *Manager) transition(planID string, from, to Status, progressMsg string) error {
	p, err := m.GetPlan(planID)
	if err != nil {
		return err
	}
	if p.Status != from {
		return fmt.Errorf("plans: plan %q is %q, expected %q", planID, p.Status, from)
	}
	p.Status = to
	p.AddProgress(progressMsg)
	return m.savePlan(p)
}

// CompletePlan marks a plan completed and archives it. Unlike the
// original (which allows completion unconditionally once a plan is
// in-progress or approved), this enforces that every task be verified
// first -- a deliberate strengthening of the lifecycle (§8 property 13)
// since "done" without verification is exactly the failure mode plan
// mode exists to catch.
func (m *Manager) CompletePlan(planID, notes string) error {
	p, err := m.GetPlan(planID)
	if err != nil {
		return err
	}
	if p.Status != StatusInProgress && p.Status != StatusApproved {
		return fmt.Errorf("plans: plan %q is %q, cannot complete", planID, p.Status)
	}
	if !p.AllTasksVerified() {
		return fmt.Errorf("plans: plan %q has unverified tasks", planID)
	}
	p.Status = StatusCompleted
	p.CompletionNotes = notes
	p.AddProgress("Plan completed")
	return m.archivePlan(p)
}

// AbandonPlan marks a non-terminal plan abandoned and archives it.
func (m *Manager) AbandonPlan(planID, reason string) error {
	p, err := m.GetPlan(planID)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted || p.Status == StatusAbandoned {
		return fmt.Errorf("plans: plan %q is already terminal (%q)", planID, p.Status)
	}
	p.Status = StatusAbandoned
	if reason != "" {
		p.AddProgress(fmt.Sprintf("Plan abandoned: %s", reason))
	} else {
		p.AddProgress("Plan abandoned")
	}
	return m.archivePlan(p)
}

func (m *Manager) savePlan(p *Plan) error {
	dir := m.activeDir
	if p.Status == StatusCompleted || p.Status == StatusAbandoned {
		dir = m.completedDir
	}
	return os.WriteFile(filepath.Join(dir, p.ID+".md"), []byte(p.ToMarkdown()), 0o600)
}

func (m *Manager) archivePlan(p *Plan) error {
	_ = os.Remove(filepath.Join(m.activeDir, p.ID+".md"))
	return os.WriteFile(filepath.Join(m.completedDir, p.ID+".md"), []byte(p.ToMarkdown()), 0o600)
}

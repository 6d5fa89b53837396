// Package plans implements the external plan-store contract (§4.11):
// a durable, markdown-backed record of a multi-step task breakdown that
// a coordinator or worker agent can create, update, and walk through a
// review/execution lifecycle. It is grounded on
// original_source/silica/developer/plans.py, the Python module this
// contract was distilled from.
package plans

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// idAlphabet matches internal/idgen's alphanumeric alphabet; plan/task/
// question ids are shorter (8 chars) to match the original's
// uuid4()[:8] convention, which markdown renders compactly.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func newShortID() string {
	id, err := gonanoid.Generate(idAlphabet, 8)
	if err != nil {
		panic("plans: generate id: " + err.Error())
	}
	return id
}

// Status is a plan's lifecycle state (§4.11).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInReview   Status = "in-review"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
)

// Task is one step within a plan. Tasks track two independent booleans:
// Completed (implementation is done) and Verified (tests pass and the
// change was validated) -- a task can be completed without being
// verified, but never verified without being completed.
type Task struct {
	ID                 string   `json:"id"`
	Description        string   `json:"description"`
	Details            string   `json:"details,omitempty"`
	Files              []string `json:"files,omitempty"`
	Tests              string   `json:"tests,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
	Completed          bool     `json:"completed"`
	Verified           bool     `json:"verified"`
	VerificationNotes  string   `json:"verification_notes,omitempty"`
}

// Question is a clarifying question raised while a plan is in draft.
type Question struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Type       string     `json:"type,omitempty"`
	Options    []string   `json:"options,omitempty"`
	Required   bool       `json:"required"`
	Answer     *string    `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// ProgressEntry is one line in a plan's progress log.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Plan is a structured plan for a complex change (§4.11).
type Plan struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Status           Status            `json:"status"`
	SessionID        string            `json:"session_id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	RootDir          string            `json:"root_dir,omitempty"`
	Context          string            `json:"context,omitempty"`
	Approach         string            `json:"approach,omitempty"`
	Tasks            []Task            `json:"tasks,omitempty"`
	Questions        []Question        `json:"questions,omitempty"`
	Considerations   map[string]string `json:"considerations,omitempty"`
	ProgressLog      []ProgressEntry   `json:"progress_log,omitempty"`
	CompletionNotes  string            `json:"completion_notes,omitempty"`
}

// AddProgress appends a timestamped progress entry and bumps UpdatedAt.
func (p *Plan) AddProgress(message string) {
	p.ProgressLog = append(p.ProgressLog, ProgressEntry{Timestamp: time.Now().UTC(), Message: message})
	p.UpdatedAt = time.Now().UTC()
}

// AddTask appends a new task and returns it.
func (p *Plan) AddTask(description string) *Task {
	t := Task{ID: newShortID(), Description: description}
	p.Tasks = append(p.Tasks, t)
	p.UpdatedAt = time.Now().UTC()
	return &p.Tasks[len(p.Tasks)-1]
}

// AddQuestion appends a new clarification question and returns it.
func (p *Plan) AddQuestion(question, questionType string, options []string, required bool) *Question {
	if questionType == "" {
		questionType = "text"
	}
	q := Question{ID: newShortID(), Question: question, Type: questionType, Options: options, Required: required}
	p.Questions = append(p.Questions, q)
	p.UpdatedAt = time.Now().UTC()
	return &p.Questions[len(p.Questions)-1]
}

// AnswerQuestion records an answer to a clarification question by id.
func (p *Plan) AnswerQuestion(questionID, answer string) bool {
	for i := range p.Questions {
		if p.Questions[i].ID == questionID {
			p.Questions[i].Answer = &answer
			now := time.Now().UTC()
			p.Questions[i].AnsweredAt = &now
			p.UpdatedAt = now
			return true
		}
	}
	return false
}

// CompleteTask marks a task's implementation as done (not yet verified).
func (p *Plan) CompleteTask(taskID string) bool {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			p.Tasks[i].Completed = true
			p.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// VerifyTask marks a task as verified. A task must already be completed.
func (p *Plan) VerifyTask(taskID, verificationNotes string) bool {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			if !p.Tasks[i].Completed {
				return false
			}
			p.Tasks[i].Verified = true
			p.Tasks[i].VerificationNotes = verificationNotes
			p.UpdatedAt = time.Now().UTC()
			return true
		}
	}
	return false
}

// UnansweredQuestions returns questions with no recorded answer.
func (p *Plan) UnansweredQuestions() []Question {
	var out []Question
	for _, q := range p.Questions {
		if q.Answer == nil {
			out = append(out, q)
		}
	}
	return out
}

// IncompleteTasks returns tasks whose implementation is not yet done.
func (p *Plan) IncompleteTasks() []Task {
	var out []Task
	for _, t := range p.Tasks {
		if !t.Completed {
			out = append(out, t)
		}
	}
	return out
}

// UnverifiedTasks returns tasks that are completed but not yet verified.
func (p *Plan) UnverifiedTasks() []Task {
	var out []Task
	for _, t := range p.Tasks {
		if t.Completed && !t.Verified {
			out = append(out, t)
		}
	}
	return out
}

// AllTasksVerified reports whether every task (if any) is verified.
// An empty task list counts as verified, matching the original.
func (p *Plan) AllTasksVerified() bool {
	for _, t := range p.Tasks {
		if !t.Verified {
			return false
		}
	}
	return true
}

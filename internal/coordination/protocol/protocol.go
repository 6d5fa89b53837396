// Package protocol defines the tagged coordination message variants
// exchanged over the bus and their JSON serialization.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
)

// ContentType is the coordination wire format's MIME type. Compressed
// bodies append "; compression=gzip".
const ContentType = "application/vnd.silica.coordination+json"

// Decision is a permission_response verdict.
type Decision string

const (
	DecisionAllow       Decision = "allow"
	DecisionDeny        Decision = "deny"
	DecisionAlwaysTool  Decision = "always_tool"
	DecisionAlwaysGroup Decision = "always_group"
	DecisionTimeout     Decision = "timeout"
)

// ResultStatus is the terminal status carried by a Result message.
type ResultStatus string

const (
	StatusComplete    ResultStatus = "complete"
	StatusFailed      ResultStatus = "failed"
	StatusBlocked     ResultStatus = "blocked"
	StatusPartial     ResultStatus = "partial"
	StatusTerminated  ResultStatus = "terminated"
)

// Message is implemented by every coordination message variant.
// Type returns the wire-level "type" discriminator.
type Message interface {
	Type() string
}

// TaskAssign dispatches a unit of work to a worker's inbox.
type TaskAssign struct {
	TaskID      string         `json:"task_id"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
}

func (TaskAssign) Type() string { return "task_assign" }

// TaskAck acknowledges receipt of a TaskAssign.
type TaskAck struct {
	TaskID         string    `json:"task_id"`
	AgentID        string    `json:"agent_id"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

func (TaskAck) Type() string { return "task_ack" }

// Progress reports incremental task status, typically broadcast to a room.
type Progress struct {
	TaskID    string    `json:"task_id"`
	AgentID   string    `json:"agent_id"`
	Progress  *float64  `json:"progress,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (Progress) Type() string { return "progress" }

// Result reports the terminal outcome of a task.
type Result struct {
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Status    ResultStatus   `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Summary   string         `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (Result) Type() string { return "result" }

// PermissionRequest asks the coordinator (or any other listener on the
// requester's inbox recipient) for permission to perform a privileged action.
type PermissionRequest struct {
	RequestID string         `json:"request_id"`
	TaskID    string         `json:"task_id,omitempty"`
	AgentID   string         `json:"agent_id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (PermissionRequest) Type() string { return "permission_request" }

// PermissionResponse answers a PermissionRequest by RequestID.
type PermissionResponse struct {
	RequestID string    `json:"request_id"`
	Decision  Decision  `json:"decision"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (PermissionResponse) Type() string { return "permission_response" }

// Idle announces that a worker has no assigned task and is available.
type Idle struct {
	AgentID         string    `json:"agent_id"`
	CompletedTaskID string    `json:"completed_task_id,omitempty"`
	AvailableSince  time.Time `json:"available_since"`
}

func (Idle) Type() string { return "idle" }

// Question asks a free-form clarifying question, typically tied to a task.
type Question struct {
	QuestionID string         `json:"question_id"`
	TaskID     string         `json:"task_id,omitempty"`
	AgentID    string         `json:"agent_id"`
	Text       string         `json:"text"`
	Context    map[string]any `json:"context,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (Question) Type() string { return "question" }

// Answer responds to a Question by QuestionID.
type Answer struct {
	QuestionID string    `json:"question_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

func (Answer) Type() string { return "answer" }

// Terminate instructs a worker to shut down regardless of its current state.
type Terminate struct {
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (Terminate) Type() string { return "terminate" }

// registry maps a wire "type" tag to a constructor for its zero value.
// Deserialize looks up the tag here before unmarshaling the rest of the body.
var registry = map[string]func() Message{
	"task_assign":         func() Message { return &TaskAssign{} },
	"task_ack":            func() Message { return &TaskAck{} },
	"progress":            func() Message { return &Progress{} },
	"result":              func() Message { return &Result{} },
	"permission_request":  func() Message { return &PermissionRequest{} },
	"permission_response": func() Message { return &PermissionResponse{} },
	"idle":                func() Message { return &Idle{} },
	"question":            func() Message { return &Question{} },
	"answer":              func() Message { return &Answer{} },
	"terminate":           func() Message { return &Terminate{} },
}

type typeTag struct {
	Type string `json:"type"`
}

// Serialize produces canonical JSON with an explicit "type" tag.
func Serialize(m Message) ([]byte, error) {
	// Marshal the variant first, then splice in "type" so the tag always
	// wins even if the variant happens to define its own field named Type.
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	typeJSON, err := json.Marshal(m.Type())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// Deserialize dispatches on the "type" tag. Unknown fields in the input
// are ignored by encoding/json; absent optional fields take their zero
// value. Missing or unrecognized "type" fails with coorderrs.MissingType
// or coorderrs.UnknownMessageType (both ParseError variants).
func Deserialize(data []byte) (Message, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, &coorderrs.ParseError{Reason: "invalid JSON", Err: err}
	}
	if tag.Type == "" {
		return nil, &coorderrs.ParseError{Reason: "missing type", Err: &coorderrs.MissingType{}}
	}
	ctor, ok := registry[tag.Type]
	if !ok {
		return nil, &coorderrs.ParseError{Reason: "unknown type", Err: &coorderrs.UnknownMessageType{Type: tag.Type}}
	}
	m := ctor()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, &coorderrs.ParseError{Reason: "decode " + tag.Type, Err: err}
	}
	return m, nil
}

// Package historystore implements the per-agent durable conversation
// history store (§4.9): append-only history.jsonl, append-only
// metadata.jsonl, rewritable context.jsonl, and a small session.json
// summary, with monotonic msg_ids and prev_msg_id chains linking
// sub-agents back into their parent's history.
//
// The content of a conversation message (text, tool_use, tool_result
// blocks) is out of this module's scope -- the LLM provider client and
// its message schema are an external collaborator (§1) -- so message
// content round-trips as opaque JSON.
package historystore

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the on-disk session.json format version this store
// reads and writes. Legacy single-file sessions (version-less
// root.json) are upgraded by the migrate subpackage before this store
// will touch them.
const SchemaVersion = 2

// HistoryMessage is one append-only history.jsonl record (§3).
type HistoryMessage struct {
	MsgID     string          `json:"msg_id"`
	PrevMsgID string          `json:"prev_msg_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
}

// MetadataRecord is one append-only metadata.jsonl record (§3), one
// per API turn.
type MetadataRecord struct {
	MsgID     string          `json:"msg_id,omitempty"`
	Model     string          `json:"model,omitempty"`
	ModelSpec string          `json:"model_spec,omitempty"`
	Usage     json.RawMessage `json:"usage,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// CompactionMetadata is stashed into session.json by Rotate/CompactInPlace
// and surfaced to the (external) summarizer contract.
type CompactionMetadata struct {
	ArchiveSuffix  string    `json:"archive_suffix,omitempty"`
	CompactedAt    time.Time `json:"compacted_at"`
	PreCompactLen  int       `json:"pre_compact_len"`
	PostCompactLen int       `json:"post_compact_len"`
}

// SessionRecord is the small session.json summary (§3).
type SessionRecord struct {
	Version         int                  `json:"version"`
	SessionID       string               `json:"session_id"`
	ParentSessionID string               `json:"parent_session_id,omitempty"`
	ModelSpec       string               `json:"model_spec,omitempty"`
	ThinkingMode    string               `json:"thinking_mode,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	LastUpdated     time.Time            `json:"last_updated"`
	ActivePlanID    string               `json:"active_plan_id,omitempty"`
	Compaction      *CompactionMetadata  `json:"compaction,omitempty"`
	MigratedFrom    string               `json:"migrated_from,omitempty"`
}

// ChatMessage is the in-memory representation of one conversation turn,
// as the (external) agent loop holds it. Flush/Rotate/CompactInPlace
// operate on slices of these.
type ChatMessage struct {
	Role    string
	Content json.RawMessage
}

// UsageEntry is one API turn's usage as the (external) agent loop holds
// it, normalized at the edge into a single record shape instead of the
// duck-typed SDK-object-or-dict the original accepts (§9 design note).
type UsageEntry struct {
	Model     string
	ModelSpec string
	Usage     json.RawMessage
}

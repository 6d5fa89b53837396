package historystore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// ErrNoSession is returned by LoadRoot when sessionDir has no v2
// session.json, whether or not a legacy root.json is present. Callers orchestrating resume
// (see the migrate subpackage) treat a legacy root.json as a signal to
// migrate first and retry.
var ErrNoSession = errors.New("historystore: no session found")

// LoadedSession is the result of resuming a session (§4.9 Resume).
type LoadedSession struct {
	Session *SessionRecord
	Root    *Store
	History []ChatMessage
	Usage   []UsageEntry
}

// LoadRoot resumes the root context of sessionDir. It requires a v2
// session.json to already be present; legacy (root.json-only)
// directories must be migrated first (see the migrate subpackage),
// which is why this function returns ErrNoSession rather than
// attempting migration itself -- doing so here would create an import
// cycle between historystore and migrate.
func LoadRoot(sessionDir string) (*LoadedSession, error) {
	sessionPath := filepath.Join(sessionDir, "session.json")
	if _, err := os.Stat(sessionPath); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, err
	}

	rec, err := loadSessionRecord(sessionPath)
	if err != nil {
		return nil, err
	}

	store, err := Open(sessionDir, rootAgentName)
	if err != nil {
		return nil, err
	}

	chatHistory, err := readContextFile(store.contextPath())
	if err != nil {
		return nil, err
	}
	chatHistory = stripOrphanedToolBlocks(chatHistory)

	usage, err := readUsageFromMetadata(store.metadataPath())
	if err != nil {
		return nil, err
	}

	store.PrimeFlushCounters(len(chatHistory), len(usage))

	return &LoadedSession{Session: &rec, Root: store, History: chatHistory, Usage: usage}, nil
}

func readContextFile(path string) ([]ChatMessage, error) {
	records, err := readJSONL[contextRecord](path)
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, len(records))
	for i, r := range records {
		content, err := json.Marshal(r.Content)
		if err != nil {
			return nil, err
		}
		out[i] = ChatMessage{Role: r.Role, Content: content}
	}
	return out, nil
}

func readUsageFromMetadata(path string) ([]UsageEntry, error) {
	records, err := readJSONL[MetadataRecord](path)
	if err != nil {
		return nil, err
	}
	out := make([]UsageEntry, len(records))
	for i, r := range records {
		out[i] = UsageEntry{Model: r.Model, ModelSpec: r.ModelSpec, Usage: r.Usage}
	}
	return out, nil
}

// toolBlock is the minimal shape this module needs to recognize
// tool_use/tool_result content blocks without depending on any specific
// LLM provider's full schema (out of scope per §1).
type toolBlock struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// stripOrphanedToolBlocks restores API-legality after a resume: any
// tool_result content block without a matching preceding tool_use (and
// vice versa) is removed, per §4.9. Messages with no content blocks
// left are dropped entirely.
func stripOrphanedToolBlocks(messages []ChatMessage) []ChatMessage {
	resultIDs := make(map[string]bool)
	for _, m := range messages {
		var blocks []json.RawMessage
		if json.Unmarshal(m.Content, &blocks) != nil {
			continue
		}
		for _, b := range blocks {
			var tb toolBlock
			if json.Unmarshal(b, &tb) == nil && tb.Type == "tool_result" {
				resultIDs[tb.ToolUseID] = true
			}
		}
	}
	pendingToolUse := make(map[string]bool)
	out := make([]ChatMessage, 0, len(messages))

	for _, m := range messages {
		var blocks []json.RawMessage
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			// Not a content-block array (e.g. a plain string message); pass through.
			out = append(out, m)
			continue
		}

		var kept []json.RawMessage
		for _, b := range blocks {
			var tb toolBlock
			if err := json.Unmarshal(b, &tb); err != nil {
				kept = append(kept, b)
				continue
			}
			switch tb.Type {
			case "tool_use":
				if !resultIDs[tb.ID] {
					continue // orphaned tool_use, drop it.
				}
				pendingToolUse[tb.ID] = true
				kept = append(kept, b)
			case "tool_result":
				if pendingToolUse[tb.ToolUseID] {
					delete(pendingToolUse, tb.ToolUseID)
					kept = append(kept, b)
				}
				// else: orphaned tool_result, drop it.
			default:
				kept = append(kept, b)
			}
		}

		if len(kept) == 0 {
			continue
		}
		content, err := json.Marshal(kept)
		if err != nil {
			out = append(out, m)
			continue
		}
		out = append(out, ChatMessage{Role: m.Role, Content: content})
	}
	return out
}

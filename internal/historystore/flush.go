package historystore

import (
	"time"
)

// Flush persists a model turn (§4.9): new messages (by count delta
// since the last flush) are appended to history.jsonl with assigned
// msg_ids and chained prev_msg_ids; new usage entries are appended to
// metadata.jsonl tagged with the most recently assigned msg_id;
// context.jsonl is rewritten wholesale from the full current window;
// session.json is rewritten preserving created_at.
//
// The delta is computed from an explicit flushedCount counter, never
// from len(chatHistory) at some other point in time -- closing the gap
// the §9 open question flags against a naive length-snapshot approach.
// Callers must not mutate chatHistory in place between flushes in a way
// that shortens it outside of Rotate/CompactInPlace.
func (s *Store) Flush(chatHistory []ChatMessage, usage []UsageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chatHistory) > s.flushedCount {
		newMsgs := chatHistory[s.flushedCount:]
		records := make([]HistoryMessage, 0, len(newMsgs))
		now := time.Now().UTC()
		for _, m := range newMsgs {
			prev := s.lastMsgID
			if !s.everAppended {
				prev = s.initialPrevMsgID
			}
			id := s.nextMsgID()
			s.everAppended = true
			records = append(records, HistoryMessage{
				MsgID: id, PrevMsgID: prev, Timestamp: now, Role: m.Role, Content: m.Content,
			})
		}
		if err := appendJSONL(s.historyPath(), records); err != nil {
			return err
		}
		s.flushedCount = len(chatHistory)
	}

	if len(usage) > s.flushedMeta {
		newUsage := usage[s.flushedMeta:]
		now := time.Now().UTC()
		tagMsgID := s.lastMsgID
		records := make([]MetadataRecord, 0, len(newUsage))
		for _, u := range newUsage {
			records = append(records, MetadataRecord{
				MsgID: tagMsgID, Model: u.Model, ModelSpec: u.ModelSpec, Usage: u.Usage, Timestamp: now,
			})
		}
		if err := appendJSONL(s.metadataPath(), records); err != nil {
			return err
		}
		s.flushedMeta = len(usage)
	}

	if err := writeContextFile(s.contextPath(), chatHistory); err != nil {
		return err
	}

	return s.writeSessionFile()
}

func (s *Store) writeSessionFile() error {
	rec, err := loadSessionRecord(s.sessionPath())
	if err != nil {
		return err
	}
	if rec.Version == 0 {
		rec.Version = SchemaVersion
		rec.CreatedAt = time.Now().UTC()
	}
	rec.LastUpdated = time.Now().UTC()
	if s.pendingCompaction != nil {
		rec.Compaction = s.pendingCompaction
		s.pendingCompaction = nil
	}
	return saveSessionRecord(s.sessionPath(), rec)
}

type contextRecord struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func writeContextFile(path string, chatHistory []ChatMessage) error {
	records := make([]contextRecord, len(chatHistory))
	for i, m := range chatHistory {
		records[i] = contextRecord{Role: m.Role, Content: m.Content}
	}
	return writeJSONLAtomic(path, records)
}

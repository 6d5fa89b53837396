package historystore

import (
	"encoding/json"
	"time"
)

// AppendRawHistory appends messages to history.jsonl, assigning
// sequential msg_ids and chaining prev_msg_id exactly as Flush does,
// and returns the assigned ids in order. It exists alongside Flush for
// the migrate subpackage, which needs the assigned ids back to pair
// legacy usage entries with assistant messages (§4.10) and cannot
// drive that through the normal Flush/PrimeFlushCounters resume path
// since there is no prior in-memory chat history to diff against.
func (s *Store) AppendRawHistory(messages []ChatMessage) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(messages) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(messages))
	records := make([]HistoryMessage, 0, len(messages))
	for _, m := range messages {
		prev := s.lastMsgID
		if !s.everAppended {
			prev = s.initialPrevMsgID
		}
		id := s.nextMsgID()
		s.everAppended = true
		records = append(records, HistoryMessage{
			MsgID: id, PrevMsgID: prev, Timestamp: now, Role: m.Role, Content: m.Content,
		})
		ids = append(ids, id)
	}
	if err := appendJSONL(s.historyPath(), records); err != nil {
		return nil, err
	}
	s.flushedCount += len(messages)
	return ids, nil
}

// AppendRawMetadata appends already-built metadata records verbatim.
func (s *Store) AppendRawMetadata(records []MetadataRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	if err := appendJSONL(s.metadataPath(), records); err != nil {
		return err
	}
	s.flushedMeta += len(records)
	return nil
}

// WriteRawContext overwrites context.jsonl with the given messages
// verbatim (one JSON value per line), preserving whatever shape the
// caller's messages have rather than re-wrapping them as {role,
// content}. Legacy migration uses this so a legacy message's extra
// fields survive the migration unchanged.
func (s *Store) WriteRawContext(messages []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSONLAtomic(s.contextPath(), messages)
}

// WriteSessionRecord writes session.json verbatim, without the
// created_at-preservation behavior EnsureSession/Flush apply -- the
// migrate subpackage builds the full record up front from legacy data.
func (s *Store) WriteSessionRecord(rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSessionRecord(s.sessionPath(), rec)
}

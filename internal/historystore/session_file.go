package historystore

import (
	"encoding/json"
	"os"
	"time"
)

// loadSessionRecord reads session.json if present; returns a zero-value
// record (Version 0) if the file does not yet exist.
func loadSessionRecord(path string) (SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SessionRecord{}, nil
		}
		return SessionRecord{}, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

func saveSessionRecord(path string, rec SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// EnsureSession initializes session.json the first time a session
// directory is used, preserving CreatedAt on every later call.
func (s *Store) EnsureSession(sessionID, parentSessionID, modelSpec, thinkingMode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := loadSessionRecord(s.sessionPath())
	if err != nil {
		return err
	}
	if rec.Version == 0 {
		now := time.Now().UTC()
		rec = SessionRecord{
			Version:         SchemaVersion,
			SessionID:       sessionID,
			ParentSessionID: parentSessionID,
			ModelSpec:       modelSpec,
			ThinkingMode:    thinkingMode,
			CreatedAt:       now,
			LastUpdated:     now,
		}
		return saveSessionRecord(s.sessionPath(), rec)
	}
	return nil
}

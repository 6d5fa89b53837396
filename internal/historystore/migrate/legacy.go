// Package migrate converts legacy single-file root.json sessions into
// the v2 split-file layout (historystore.Store), per §4.10. It is a
// separate package from historystore because the migration orchestrates
// Open and raw-append calls on top of the v2 primitives rather than being one
// of them, and because historystore.LoadRoot must not import it (the
// caller decides whether to migrate, then retries the load).
package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/historystore"
)

// legacyRoot mirrors the shape of a legacy root.json file.
type legacyRoot struct {
	SessionID       string            `json:"session_id,omitempty"`
	ParentSessionID string            `json:"parent_session_id,omitempty"`
	ModelSpec       string            `json:"model_spec,omitempty"`
	ThinkingMode    string            `json:"thinking_mode,omitempty"`
	ActivePlanID    string            `json:"active_plan_id,omitempty"`
	Messages        []json.RawMessage `json:"messages"`
	Usage           []legacyUsagePair `json:"usage"`
	Metadata        legacyMetaBlock   `json:"metadata"`
	Compaction      json.RawMessage   `json:"compaction,omitempty"`
}

type legacyMetaBlock struct {
	CreatedAt string `json:"created_at,omitempty"`
	RootDir   string `json:"root_dir,omitempty"`
}

// legacyUsagePair is the original [usage, model_spec] tuple shape.
type legacyUsagePair [2]json.RawMessage

type legacyArchive struct {
	Messages []json.RawMessage `json:"messages"`
}

type legacyMessage struct {
	Role string `json:"role"`
}

// Stats reports what a migration did (or, for a dry run, would do).
type Stats struct {
	SessionDir    string
	DryRun        bool
	MessageCount  int
	UsageCount    int
	FilesCreated  []string
	FilesBackedUp []string
}

// Migrate converts sessionDir from legacy root.json to the v2 layout.
// If dryRun is true, nothing under sessionDir is touched; the result
// is written under sessionDir+".migration-preview" instead, and Stats
// reflects what a real run would produce.
func Migrate(sessionDir string, dryRun bool) (*Stats, error) {
	rootFile := filepath.Join(sessionDir, "root.json")
	sessionFile := filepath.Join(sessionDir, "session.json")
	backupDir := filepath.Join(sessionDir, ".backup")

	if _, err := os.Stat(sessionFile); err == nil {
		return nil, fmt.Errorf("migrate: %s is already in v2 format", sessionDir)
	}
	raw, err := os.ReadFile(rootFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("migrate: no root.json in %s: %w", sessionDir, err)
		}
		return nil, err
	}
	if _, err := os.Stat(backupDir); err == nil {
		return nil, &coorderrs.MigrationConflict{Dir: backupDir}
	}

	var legacy legacyRoot
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("migrate: parsing root.json: %w", err)
	}

	archives, err := discoverArchives(sessionDir)
	if err != nil {
		return nil, err
	}
	subAgents, err := discoverSubAgents(sessionDir)
	if err != nil {
		return nil, err
	}

	targetDir := sessionDir
	if dryRun {
		targetDir = sessionDir + ".migration-preview"
		if err := os.MkdirAll(targetDir, 0o750); err != nil {
			return nil, err
		}
	}

	stats := &Stats{SessionDir: sessionDir, DryRun: dryRun, MessageCount: len(legacy.Messages), UsageCount: len(legacy.Usage)}

	store, err := historystore.Open(targetDir, "root")
	if err != nil {
		return nil, err
	}

	var allMsgIDs []string
	for _, a := range archives {
		ids, err := appendLegacyMessages(store, a.data.Messages)
		if err != nil {
			return nil, err
		}
		allMsgIDs = append(allMsgIDs, ids...)
	}
	currentIDs, err := appendLegacyMessages(store, legacy.Messages)
	if err != nil {
		return nil, err
	}
	allMsgIDs = append(allMsgIDs, currentIDs...)
	stats.FilesCreated = append(stats.FilesCreated, "root.history.jsonl")

	if len(legacy.Usage) > 0 {
		assistantIDs := assistantMsgIDs(currentIDs, legacy.Messages)
		entries, err := pairUsage(legacy.Usage, assistantIDs)
		if err != nil {
			return nil, err
		}
		if err := store.AppendRawMetadata(entries); err != nil {
			return nil, err
		}
	}
	stats.FilesCreated = append(stats.FilesCreated, "root.metadata.jsonl")

	if err := store.WriteRawContext(legacy.Messages); err != nil {
		return nil, err
	}
	stats.FilesCreated = append(stats.FilesCreated, "root.context.jsonl")

	sessRec := historystore.SessionRecord{
		Version:         historystore.SchemaVersion,
		SessionID:       firstNonEmpty(legacy.SessionID, filepath.Base(sessionDir)),
		ParentSessionID: legacy.ParentSessionID,
		ModelSpec:       legacy.ModelSpec,
		ThinkingMode:    legacy.ThinkingMode,
		ActivePlanID:    legacy.ActivePlanID,
		MigratedFrom:    "root.json",
		LastUpdated:     time.Now().UTC(),
	}
	if legacy.Metadata.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, legacy.Metadata.CreatedAt); err == nil {
			sessRec.CreatedAt = t
		}
	}
	if sessRec.CreatedAt.IsZero() {
		sessRec.CreatedAt = time.Now().UTC()
	}
	if len(legacy.Compaction) > 0 {
		var cm historystore.CompactionMetadata
		if err := json.Unmarshal(legacy.Compaction, &cm); err == nil {
			sessRec.Compaction = &cm
		}
	}
	if err := store.WriteSessionRecord(sessRec); err != nil {
		return nil, err
	}
	stats.FilesCreated = append(stats.FilesCreated, "session.json")

	for _, sub := range subAgents {
		subStore, err := historystore.Open(targetDir, sub.id)
		if err != nil {
			return nil, err
		}
		if _, err := appendLegacyMessages(subStore, sub.data.Messages); err != nil {
			return nil, err
		}
		if err := subStore.WriteRawContext(sub.data.Messages); err != nil {
			return nil, err
		}
		stats.FilesCreated = append(stats.FilesCreated, sub.id+".history.jsonl", sub.id+".context.jsonl")
	}

	if dryRun {
		stats.FilesBackedUp = append(stats.FilesBackedUp, "root.json")
		for _, a := range archives {
			stats.FilesBackedUp = append(stats.FilesBackedUp, a.name)
		}
		for _, sub := range subAgents {
			stats.FilesBackedUp = append(stats.FilesBackedUp, sub.name)
		}
		return stats, nil
	}

	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return nil, err
	}
	toBackUp := []string{"root.json"}
	for _, a := range archives {
		toBackUp = append(toBackUp, a.name)
	}
	for _, sub := range subAgents {
		toBackUp = append(toBackUp, sub.name)
	}
	for _, name := range toBackUp {
		if err := os.Rename(filepath.Join(sessionDir, name), filepath.Join(backupDir, name)); err != nil {
			return nil, err
		}
		stats.FilesBackedUp = append(stats.FilesBackedUp, name)
	}

	if err := writeRollbackScript(sessionDir, backupDir, stats.FilesCreated, toBackUp); err != nil {
		return nil, err
	}

	return stats, nil
}

type namedArchive struct {
	name string
	data legacyArchive
}

// discoverArchives finds pre-compaction-*.json files, sorted oldest
// first by filename (the original's timestamp-suffixed naming sorts
// chronologically as a plain string sort).
func discoverArchives(sessionDir string) ([]namedArchive, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, err
	}
	var out []namedArchive
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "pre-compaction-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(sessionDir, name))
		if err != nil {
			continue
		}
		var a legacyArchive
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		out = append(out, namedArchive{name: name, data: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

type namedSubAgent struct {
	name string
	id   string
	data legacyArchive
}

func discoverSubAgents(sessionDir string) ([]namedSubAgent, error) {
	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return nil, err
	}
	var out []namedSubAgent
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if name == "root.json" || name == "session.json" || strings.HasPrefix(name, "pre-compaction-") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(sessionDir, name))
		if err != nil {
			continue
		}
		var a legacyArchive
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		out = append(out, namedSubAgent{name: name, id: id, data: a})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func appendLegacyMessages(store *historystore.Store, messages []json.RawMessage) ([]string, error) {
	chat := make([]historystore.ChatMessage, len(messages))
	for i, m := range messages {
		var lm legacyMessage
		if err := json.Unmarshal(m, &lm); err != nil {
			return nil, fmt.Errorf("migrate: parsing message %d: %w", i, err)
		}
		chat[i] = historystore.ChatMessage{Role: lm.Role, Content: m}
	}
	return store.AppendRawHistory(chat)
}

func assistantMsgIDs(ids []string, messages []json.RawMessage) []string {
	var out []string
	for i, m := range messages {
		var lm legacyMessage
		if json.Unmarshal(m, &lm) == nil && lm.Role == "assistant" && i < len(ids) {
			out = append(out, ids[i])
		}
	}
	return out
}

func pairUsage(pairs []legacyUsagePair, assistantIDs []string) ([]historystore.MetadataRecord, error) {
	out := make([]historystore.MetadataRecord, len(pairs))
	now := time.Now().UTC()
	for i, p := range pairs {
		rec := historystore.MetadataRecord{Usage: p[0], Timestamp: now}
		var modelTitle struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(p[1], &modelTitle) == nil && modelTitle.Title != "" {
			rec.Model = modelTitle.Title
		} else {
			rec.Model = "unknown"
		}
		rec.ModelSpec = string(p[1])
		if i < len(assistantIDs) {
			rec.MsgID = assistantIDs[i]
		}
		out[i] = rec
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeRollbackScript(sessionDir, backupDir string, filesCreated, filesBackedUp []string) error {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString("# Generated by coordhub migrate. Restores the legacy root.json layout\n")
	sb.WriteString("# and removes the v2 files produced by this migration.\n")
	sb.WriteString("set -e\n")
	for _, name := range filesBackedUp {
		fmt.Fprintf(&sb, "mv %q %q\n", filepath.Join(backupDir, name), filepath.Join(sessionDir, name))
	}
	for _, name := range filesCreated {
		fmt.Fprintf(&sb, "rm -f %q\n", filepath.Join(sessionDir, name))
	}
	sb.WriteString("rmdir " + quoteSh(backupDir) + " 2>/dev/null || true\n")
	return os.WriteFile(filepath.Join(sessionDir, "rollback-migration.sh"), []byte(sb.String()), 0o750)
}

func quoteSh(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

// LoadOrMigrate resumes sessionDir, transparently migrating a legacy
// root.json directory to v2 first if needed (§4.9 Resume / §4.10).
func LoadOrMigrate(sessionDir string) (*historystore.LoadedSession, error) {
	loaded, err := historystore.LoadRoot(sessionDir)
	if err == nil {
		return loaded, nil
	}
	if err != historystore.ErrNoSession {
		return nil, err
	}
	if _, statErr := os.Stat(filepath.Join(sessionDir, "root.json")); statErr != nil {
		return nil, err
	}
	if _, migErr := Migrate(sessionDir, false); migErr != nil {
		return nil, migErr
	}
	return historystore.LoadRoot(sessionDir)
}

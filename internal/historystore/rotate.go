package historystore

import (
	"io"
	"os"
	"time"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
)

// Rotate is the root-only archive-then-replace compaction (§4.9):
// archives the current context.jsonl to "<archiveSuffix>.context.jsonl",
// then resets the store so the next Flush treats newMessages as the
// already-accounted-for window (history.jsonl is never truncated --
// the compacted-away messages remain in the audit log forever).
func (s *Store) Rotate(archiveSuffix string, newMessages []ChatMessage, compactionMeta *CompactionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRoot {
		return &coorderrs.NotRoot{AgentName: s.agentName}
	}

	if err := copyFile(s.contextPath(), s.archivePath(archiveSuffix)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return s.resetForCompaction(archiveSuffix, newMessages, compactionMeta)
}

// CompactInPlace works on root or sub-agent contexts, does not archive,
// and otherwise follows the same reset-for-compaction contract as Rotate.
func (s *Store) CompactInPlace(newMessages []ChatMessage, compactionMeta *CompactionMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetForCompaction("", newMessages, compactionMeta)
}

// resetForCompaction rewrites context.jsonl from newMessages and resets
// the flush counter to len(newMessages), so the next Flush does not
// append newMessages to history.jsonl; only messages added after them
// are appended. history.jsonl keeps the pre-compaction records.
func (s *Store) resetForCompaction(archiveSuffix string, newMessages []ChatMessage, compactionMeta *CompactionMetadata) error {
	if err := writeContextFile(s.contextPath(), newMessages); err != nil {
		return err
	}
	s.flushedCount = len(newMessages)

	if compactionMeta == nil {
		compactionMeta = &CompactionMetadata{}
	}
	meta := *compactionMeta
	meta.ArchiveSuffix = archiveSuffix
	if meta.CompactedAt.IsZero() {
		meta.CompactedAt = time.Now().UTC()
	}
	meta.PostCompactLen = len(newMessages)
	s.pendingCompaction = &meta

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

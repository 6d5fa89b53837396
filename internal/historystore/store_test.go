package historystore_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/historystore"
)

// readHistoryFile reads a *.history.jsonl file's records directly,
// bypassing the Store abstraction, to assert on what actually landed
// on disk.
func readHistoryFile(t *testing.T, path string) []historystore.HistoryMessage {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []historystore.HistoryMessage
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec historystore.HistoryMessage
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func rawContent(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestFlush_AssignsChainedMsgIDs(t *testing.T) {
	dir := t.TempDir()
	store, err := historystore.Open(dir, "root")
	require.NoError(t, err)

	require.NoError(t, store.EnsureSession("sess-1", "", "sonnet", "standard"))

	history := []historystore.ChatMessage{
		{Role: "user", Content: rawContent(t, "hi")},
	}
	require.NoError(t, store.Flush(history, nil))

	history = append(history, historystore.ChatMessage{Role: "assistant", Content: rawContent(t, "hello")})
	require.NoError(t, store.Flush(history, nil))

	loaded, err := historystore.LoadRoot(dir)
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, "sess-1", loaded.Session.SessionID)

	records := readHistoryFile(t, filepath.Join(dir, "root.history.jsonl"))
	require.Len(t, records, 2)
	assert.Equal(t, "m_0001", records[0].MsgID)
	assert.Empty(t, records[0].PrevMsgID)
	assert.Equal(t, "m_0002", records[1].MsgID)
	assert.Equal(t, "m_0001", records[1].PrevMsgID)
}

func TestFlush_UsageTaggedWithLastMsgID(t *testing.T) {
	dir := t.TempDir()
	store, err := historystore.Open(dir, "root")
	require.NoError(t, err)
	require.NoError(t, store.EnsureSession("sess-1", "", "", ""))

	history := []historystore.ChatMessage{{Role: "user", Content: rawContent(t, "hi")}}
	usage := []historystore.UsageEntry{{Model: "claude", ModelSpec: "claude-x", Usage: rawContent(t, map[string]int{"input_tokens": 10})}}
	require.NoError(t, store.Flush(history, usage))

	loaded, err := historystore.LoadRoot(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Usage, 1)
	assert.Equal(t, "claude-x", loaded.Usage[0].ModelSpec)

	f, err := os.Open(filepath.Join(dir, "root.metadata.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	var meta historystore.MetadataRecord
	require.NoError(t, json.NewDecoder(f).Decode(&meta))
	assert.Equal(t, "m_0001", meta.MsgID)
}

func TestLoadRoot_NoSession(t *testing.T) {
	dir := t.TempDir()
	_, err := historystore.LoadRoot(dir)
	assert.ErrorIs(t, err, historystore.ErrNoSession)
}

func TestOpenSubAgent_CapturesParentPrevMsgID(t *testing.T) {
	dir := t.TempDir()
	root, err := historystore.Open(dir, "root")
	require.NoError(t, err)
	require.NoError(t, root.EnsureSession("sess-1", "", "", ""))
	require.NoError(t, root.Flush([]historystore.ChatMessage{{Role: "user", Content: rawContent(t, "hi")}}, nil))

	parentLast := root.LastMsgID()
	require.NotEmpty(t, parentLast)

	sub, err := historystore.OpenSubAgent(dir, "sub-1", root)
	require.NoError(t, err)
	require.NoError(t, sub.EnsureSession("sub-sess", "sess-1", "", ""))
	require.NoError(t, sub.Flush([]historystore.ChatMessage{{Role: "user", Content: rawContent(t, "task")}}, nil))

	data := readHistoryFile(t, filepath.Join(dir, "sub-1.history.jsonl"))
	require.Len(t, data, 1)
	assert.Equal(t, parentLast, data[0].PrevMsgID)
}

func TestRotate_ArchivesContextAndResetsCounters(t *testing.T) {
	dir := t.TempDir()
	store, err := historystore.Open(dir, "root")
	require.NoError(t, err)
	require.NoError(t, store.EnsureSession("sess-1", "", "", ""))

	history := []historystore.ChatMessage{
		{Role: "user", Content: rawContent(t, "one")},
		{Role: "assistant", Content: rawContent(t, "two")},
	}
	require.NoError(t, store.Flush(history, nil))

	remaining := []historystore.ChatMessage{{Role: "user", Content: rawContent(t, "three")}}
	require.NoError(t, store.Rotate("archive-1", remaining, nil))
	require.NoError(t, store.Flush(remaining, nil))

	loaded, err := historystore.LoadRoot(dir)
	require.NoError(t, err)
	// history.jsonl keeps the pre-compaction messages forever; only
	// context.jsonl (the live window) is truncated by Rotate.
	assert.Len(t, loaded.History, 1)

	all := readHistoryFile(t, filepath.Join(dir, "root.history.jsonl"))
	assert.Len(t, all, 2)
}

func TestStripOrphanedToolBlocks_DropsUnmatchedResult(t *testing.T) {
	dir := t.TempDir()
	store, err := historystore.Open(dir, "root")
	require.NoError(t, err)
	require.NoError(t, store.EnsureSession("sess-1", "", "", ""))

	orphan := rawContent(t, []map[string]any{
		{"type": "tool_result", "tool_use_id": "missing"},
	})
	require.NoError(t, store.Flush([]historystore.ChatMessage{{Role: "user", Content: orphan}}, nil))

	loaded, err := historystore.LoadRoot(dir)
	require.NoError(t, err)
	assert.Empty(t, loaded.History)
}

package migrate_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapmux/leapmux/internal/coordination/coorderrs"
	"github.com/leapmux/leapmux/internal/historystore"
	"github.com/leapmux/leapmux/internal/historystore/migrate"
)

func writeLegacyRoot(t *testing.T, dir string) {
	t.Helper()
	root := map[string]any{
		"session_id": "sess-legacy",
		"model_spec": "claude-x",
		"messages": []map[string]any{
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": "hi there"},
		},
		"usage": []any{
			[]any{map[string]int{"input_tokens": 5}, map[string]string{"title": "claude-x"}},
		},
		"metadata": map[string]string{"created_at": "2025-01-01T00:00:00Z"},
	}
	data, err := json.Marshal(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "root.json"), data, 0o600))
}

func TestMigrate_ConvertsLegacyRootToV2(t *testing.T) {
	dir := t.TempDir()
	writeLegacyRoot(t, dir)

	stats, err := migrate.Migrate(dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.MessageCount)
	assert.Equal(t, 1, stats.UsageCount)
	assert.False(t, stats.DryRun)
	assert.Contains(t, stats.FilesBackedUp, "root.json")

	_, err = os.Stat(filepath.Join(dir, "root.json"))
	assert.True(t, os.IsNotExist(err), "root.json should be moved into .backup")
	_, err = os.Stat(filepath.Join(dir, ".backup", "root.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "rollback-migration.sh"))
	assert.NoError(t, err)

	loaded, err := historystore.LoadRoot(dir)
	require.NoError(t, err)
	assert.Len(t, loaded.History, 2)
	require.Len(t, loaded.Usage, 1)
	assert.Equal(t, "sess-legacy", loaded.Session.SessionID)
	assert.Equal(t, "root.json", loaded.Session.MigratedFrom)
}

func TestMigrate_DryRunLeavesOriginalUntouched(t *testing.T) {
	dir := t.TempDir()
	writeLegacyRoot(t, dir)

	stats, err := migrate.Migrate(dir, true)
	require.NoError(t, err)
	assert.True(t, stats.DryRun)

	_, err = os.Stat(filepath.Join(dir, "root.json"))
	assert.NoError(t, err, "dry run must not move root.json")
	_, err = os.Stat(filepath.Join(dir, "session.json"))
	assert.True(t, os.IsNotExist(err), "dry run must not write session.json in place")

	_, err = os.Stat(dir + ".migration-preview" + "/session.json")
	assert.NoError(t, err)
}

func TestMigrate_RefusesWhenBackupDirExists(t *testing.T) {
	dir := t.TempDir()
	writeLegacyRoot(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".backup"), 0o750))

	_, err := migrate.Migrate(dir, false)
	require.Error(t, err)
	var conflict *coorderrs.MigrationConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestMigrate_RefusesWhenAlreadyV2(t *testing.T) {
	dir := t.TempDir()
	store, err := historystore.Open(dir, "root")
	require.NoError(t, err)
	require.NoError(t, store.EnsureSession("s1", "", "", ""))

	_, err = migrate.Migrate(dir, false)
	assert.Error(t, err)
}

func TestLoadOrMigrate_MigratesTransparently(t *testing.T) {
	dir := t.TempDir()
	writeLegacyRoot(t, dir)

	loaded, err := migrate.LoadOrMigrate(dir)
	require.NoError(t, err)
	assert.Len(t, loaded.History, 2)
}

func TestLoadOrMigrate_NoSessionAtAll(t *testing.T) {
	dir := t.TempDir()
	_, err := migrate.LoadOrMigrate(dir)
	assert.ErrorIs(t, err, historystore.ErrNoSession)
}

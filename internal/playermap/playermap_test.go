package playermap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknown(t *testing.T) {
	s := NewStore("")

	_, ok := s.Resolve("guild-1", "user-1")
	assert.False(t, ok)
}

func TestRefreshAndResolveInMemory(t *testing.T) {
	s := NewStore("")

	require.NoError(t, s.Refresh("guild-1", map[string]Entry{
		"user-1": {Player: "Alice", Character: "Gandalf"},
		"user-2": {Player: "Bob", Character: "Bilbo"},
	}))

	entry, ok := s.Resolve("guild-1", "user-1")
	require.True(t, ok)
	assert.Equal(t, "Alice", entry.Player)
	assert.Equal(t, "Gandalf", entry.Character)

	_, ok = s.Resolve("guild-2", "user-1")
	assert.False(t, ok, "other guilds stay independent")
}

func TestRefreshPersistsAndReloads(t *testing.T) {
	dir := t.TempDir()

	s := NewStore(dir)
	require.NoError(t, s.Refresh("42", map[string]Entry{
		"user-1": {Player: "Alice", Character: "Gandalf"},
	}))

	_, err := os.Stat(filepath.Join(dir, "guild_42.yaml"))
	require.NoError(t, err)

	// A fresh store picks the file back up.
	reloaded := NewStore(dir)
	entry, ok := reloaded.Resolve("42", "user-1")
	require.True(t, ok)
	assert.Equal(t, "Alice", entry.Player)
	assert.Equal(t, "Gandalf", entry.Character)
}

func TestLoadSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guild_1.yaml"), []byte("not: [valid: yaml"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guild_2.yaml"), []byte("user-9:\n  player: Carol\n  character: Elf\n"), 0644))

	s := NewStore(dir)

	_, ok := s.Resolve("1", "anyone")
	assert.False(t, ok)

	entry, ok := s.Resolve("2", "user-9")
	require.True(t, ok)
	assert.Equal(t, "Carol", entry.Player)
}

func TestRefreshReplacesPreviousEntries(t *testing.T) {
	s := NewStore("")

	require.NoError(t, s.Refresh("g", map[string]Entry{"a": {Player: "Old"}}))
	require.NoError(t, s.Refresh("g", map[string]Entry{"b": {Player: "New"}}))

	_, ok := s.Resolve("g", "a")
	assert.False(t, ok)
	entry, ok := s.Resolve("g", "b")
	require.True(t, ok)
	assert.Equal(t, "New", entry.Player)
}

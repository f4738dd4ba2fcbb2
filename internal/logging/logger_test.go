package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultWritesWithoutPanic(t *testing.T) {
	l := New(Config{Level: LevelDebug, Service: "test"})
	require.NotNil(t, l)
	l.Info("hello", "k", "v")
	assert.NoError(t, l.Close())
}

func TestNewWithLogDirCreatesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Level: LevelInfo, Service: "engine", LogDir: dir, Quiet: true})
	l.Info("started")
	require.NoError(t, l.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "engine_")
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "logs"), expandHome("~/logs"))
	assert.Equal(t, "/var/log/x", expandHome("/var/log/x"))
}

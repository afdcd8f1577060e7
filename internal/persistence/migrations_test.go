package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadMigrationsSortsAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "002_users.sql", "CREATE TABLE users ();")
	writeFile(t, dir, "001_tickets.sql", "CREATE TABLE tickets ();")
	writeFile(t, dir, "001_tickets.down.sql", "DROP TABLE tickets;")
	writeFile(t, dir, "README.md", "notes")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.sql"), 0o755))

	got, err := LoadMigrations(dir)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_tickets.sql", got[0].Name)
	assert.Equal(t, "002_users.sql", got[1].Name)
	assert.Len(t, got[0].Checksum, 64)
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	got, err := LoadMigrations(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPendingSkipsAppliedAndReportsModified(t *testing.T) {
	all := []Migration{
		{Name: "001_tickets.sql", Checksum: checksum("a")},
		{Name: "002_users.sql", Checksum: checksum("b")},
		{Name: "003_index.sql", Checksum: checksum("c")},
	}
	applied := map[string]string{
		"001_tickets.sql": checksum("a"),
		"002_users.sql":   checksum("edited"),
	}

	pending, modified := Pending(all, applied)
	require.Len(t, pending, 1)
	assert.Equal(t, "003_index.sql", pending[0].Name)
	assert.Equal(t, []string{"002_users.sql"}, modified)
}

func TestRepositoryMigrationsAreLoadable(t *testing.T) {
	got, err := LoadMigrations(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "001_tickets.sql", got[0].Name)
}

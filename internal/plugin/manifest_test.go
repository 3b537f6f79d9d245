// ABOUTME: Tests for plugin.toml manifest parsing
// ABOUTME: Covers valid manifests, validation failures, and option mapping

package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadManifest_Valid(t *testing.T) {
	path := writeManifest(t, `
id = "com.example.notes"
name = "Notes"

[storage]
private_database = true
filename = "notes-store.db"
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "com.example.notes", m.ID)
	assert.Equal(t, "Notes", m.Name)
	assert.True(t, m.Storage.PrivateDatabase)
	assert.Equal(t, "notes-store.db", m.Storage.Filename)
	assert.Equal(t, Options{Filename: "notes-store.db"}, m.Options())
}

func TestLoadManifest_MinimalSharedOnly(t *testing.T) {
	path := writeManifest(t, `
id = "com.example.minimal"
`)

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.False(t, m.Storage.PrivateDatabase)
	assert.Equal(t, Options{}, m.Options())
}

func TestLoadManifest_MissingID(t *testing.T) {
	path := writeManifest(t, `
name = "Anonymous"
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}

func TestLoadManifest_FilenameWithoutPrivateDatabase(t *testing.T) {
	path := writeManifest(t, `
id = "com.example.odd"

[storage]
filename = "store.db"
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifest_FilenameWithPath(t *testing.T) {
	path := writeManifest(t, `
id = "com.example.sneaky"

[storage]
private_database = true
filename = "../outside.db"
`)

	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifest_BadTOML(t *testing.T) {
	path := writeManifest(t, `id = [broken`)

	_, err := LoadManifest(path)
	require.Error(t, err)
}

func TestLoadManifest_FileNotFound(t *testing.T) {
	_, err := LoadManifest("/nonexistent/plugin.toml")
	require.Error(t, err)
}

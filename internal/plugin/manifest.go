// ABOUTME: Plugin manifest parsing for storage grants
// ABOUTME: Plugins declare their storage needs in a plugin.toml file

package plugin

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest is the storage-relevant part of a plugin's plugin.toml.
type Manifest struct {
	ID      string          `toml:"id"`
	Name    string          `toml:"name"`
	Storage ManifestStorage `toml:"storage"`
}

// ManifestStorage declares what storage the plugin wants granted.
type ManifestStorage struct {
	// PrivateDatabase requests a dedicated database file in addition to
	// the shared key/value rows every plugin gets.
	PrivateDatabase bool `toml:"private_database"`
	// Filename optionally overrides the derived private database file
	// name. Must be a bare file name.
	Filename string `toml:"filename"`
}

// LoadManifest reads and validates a plugin manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("parsing plugin manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plugin manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest's required fields and filename constraints.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(m.ID, " \t\n") {
		return fmt.Errorf("id %q must not contain whitespace", m.ID)
	}
	if m.Storage.Filename != "" {
		if !m.Storage.PrivateDatabase {
			return fmt.Errorf("storage.filename requires storage.private_database")
		}
		if strings.ContainsAny(m.Storage.Filename, `/\`) {
			return fmt.Errorf("storage.filename %q must be a bare file name", m.Storage.Filename)
		}
	}
	return nil
}

// Options returns the private database options the manifest asks for.
func (m *Manifest) Options() Options {
	return Options{Filename: m.Storage.Filename}
}

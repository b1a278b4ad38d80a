package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSources(t *testing.T) {
	path := writeSources(t, `
[[sources]]
name = "chrono24"
enabled = true
models = ["Omega de ville", "Hermès Arceau"]
exclude_countries = ["Japón"]
page_size = 120
max_pages = 5

[[sources]]
name = "vestiaire"
enabled = false
seller_ids = ["9876"]
`)

	s, err := LoadSources(path)
	require.NoError(t, err)
	require.Len(t, s.Sources, 2)

	c24 := s.Sources[0]
	assert.Equal(t, "chrono24", c24.Name)
	assert.Equal(t, []string{"Omega de ville", "Hermès Arceau"}, c24.Queries())
	assert.Equal(t, 120, c24.PageSize)
	assert.Equal(t, 5, c24.MaxPages)

	enabled := s.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "chrono24", enabled[0].Name)
}

func TestLoadSourcesSellerDriven(t *testing.T) {
	path := writeSources(t, `
[[sources]]
name = "vestiaire"
enabled = true
seller_ids = ["123", "456"]
`)

	s, err := LoadSources(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "456"}, s.Sources[0].Queries())
}

func TestLoadSourcesMissingFileFallsBack(t *testing.T) {
	s, err := LoadSources(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.NotEmpty(t, s.Sources)
	assert.Equal(t, "chrono24", s.Sources[0].Name)
}

func TestLoadSourcesMalformed(t *testing.T) {
	path := writeSources(t, `[[sources]
name = broken`)

	_, err := LoadSources(path)
	assert.Error(t, err)
}

package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// SourceConfig describes one tracked marketplace source and the queries to
// run against it. Search-driven sources use Models; seller-driven sources
// use SellerIDs.
type SourceConfig struct {
	Name             string   `toml:"name"`
	Enabled          bool     `toml:"enabled"`
	Models           []string `toml:"models"`
	SellerIDs        []string `toml:"seller_ids"`
	ExcludeCountries []string `toml:"exclude_countries"`
	PageSize         int      `toml:"page_size"`
	MaxPages         int      `toml:"max_pages"`
}

// Queries returns the list of query terms for this source.
func (s *SourceConfig) Queries() []string {
	if len(s.Models) > 0 {
		return s.Models
	}
	return s.SellerIDs
}

// Sources is the root of the sources.toml file.
type Sources struct {
	Sources []SourceConfig `toml:"sources"`
}

// Enabled returns only the sources marked enabled.
func (s *Sources) Enabled() []SourceConfig {
	var out []SourceConfig
	for _, src := range s.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// LoadSources reads the tracked-sources file. A missing file degrades to the
// built-in default set rather than an error, so a fresh checkout still runs.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSources(), nil
		}
		return nil, fmt.Errorf("sources: read %q: %w", path, err)
	}

	var s Sources
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("sources: parse %q: %w", path, err)
	}
	if len(s.Sources) == 0 {
		return defaultSources(), nil
	}
	return &s, nil
}

func defaultSources() *Sources {
	return &Sources{Sources: []SourceConfig{
		{
			Name:             "chrono24",
			Enabled:          true,
			Models:           []string{"Omega de ville", "Hermès Arceau", "Omega seamaster"},
			ExcludeCountries: []string{"Japón", "Japan", "JP"},
			PageSize:         120,
		},
	}}
}

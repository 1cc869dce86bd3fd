package incident

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CredibilityTable assigns a credibility weight to every mention based on its source.
type CredibilityTable struct {
	// Sources holds the weight per source kind.
	Sources map[SourceKind]float64 `yaml:"sources"`
	// SubSources overrides the kind weight for a specific source ID or source ID prefix
	// (the part before the first "/"), e.g. "reddit" or "reuters.com".
	SubSources map[string]float64 `yaml:"sub_sources"`
	// Fallback is used when neither table has an entry.
	Fallback float64 `yaml:"fallback"`
}

// DefaultCredibilityTable returns the built-in source weighting.
func DefaultCredibilityTable() CredibilityTable {
	return CredibilityTable{
		Sources: map[SourceKind]float64{
			SourceNews:   1.0,
			SourceManual: 0.8,
			SourceSocial: 0.6,
			SourceWeb:    0.5,
		},
		SubSources: map[string]float64{
			"youtube": 0.85,
			"reddit":  0.7,
			"twitter": 0.6,
		},
		Fallback: 0.4,
	}
}

// LoadCredibilityTable reads a YAML credibility table from path. Kinds missing from the
// file keep their default weight.
func LoadCredibilityTable(path string) (CredibilityTable, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return CredibilityTable{}, fmt.Errorf("read credibility table: %w", err)
	}

	var file struct {
		Sources    map[SourceKind]float64 `yaml:"sources"`
		SubSources map[string]float64     `yaml:"sub_sources"`
		Fallback   *float64               `yaml:"fallback"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return CredibilityTable{}, fmt.Errorf("parse credibility table: %w", err)
	}

	t := DefaultCredibilityTable()
	for k, w := range file.Sources {
		t.Sources[k] = w
	}
	for k, w := range file.SubSources {
		t.SubSources[strings.ToLower(k)] = w
	}
	if file.Fallback != nil {
		t.Fallback = *file.Fallback
	}

	if err := t.Validate(); err != nil {
		return CredibilityTable{}, err
	}
	return t, nil
}

// Validate checks that every kind is known and every weight lies in 0..1.
func (t CredibilityTable) Validate() error {
	for k, w := range t.Sources {
		if !k.Valid() {
			return fmt.Errorf("credibility table: %w: %q", ErrInvalidSourceKind, k)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("credibility table: weight for %s out of range: %v", k, w)
		}
	}
	for k, w := range t.SubSources {
		if w < 0 || w > 1 {
			return fmt.Errorf("credibility table: weight for %s out of range: %v", k, w)
		}
	}
	if t.Fallback < 0 || t.Fallback > 1 {
		return fmt.Errorf("credibility table: fallback out of range: %v", t.Fallback)
	}
	return nil
}

// Weight returns the credibility weight for a mention from the given source.
func (t CredibilityTable) Weight(kind SourceKind, sourceID string) float64 {
	id := strings.ToLower(strings.TrimSpace(sourceID))
	if id != "" {
		if w, ok := t.SubSources[id]; ok {
			return w
		}
		if prefix, _, found := strings.Cut(id, "/"); found {
			if w, ok := t.SubSources[prefix]; ok {
				return w
			}
		}
	}
	if w, ok := t.Sources[kind]; ok {
		return w
	}
	return t.Fallback
}

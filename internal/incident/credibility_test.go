package incident

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCredibilityTable_Weight(t *testing.T) {
	t.Parallel()

	tbl := DefaultCredibilityTable()
	tests := []struct {
		name     string
		kind     SourceKind
		sourceID string
		want     float64
	}{
		{"news kind", SourceNews, "news", 1.0},
		{"manual kind", SourceManual, "", 0.8},
		{"web kind", SourceWeb, "blog.example.com", 0.5},
		{"exact sub-source", SourceSocial, "youtube", 0.85},
		{"prefix sub-source", SourceSocial, "reddit/u/someone", 0.7},
		{"case insensitive", SourceSocial, "Twitter/Alice", 0.6},
		{"unknown kind falls back", "podcast", "", 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tbl.Weight(tt.kind, tt.sourceID); got != tt.want {
				t.Errorf("Weight(%s, %q) = %v, want %v", tt.kind, tt.sourceID, got, tt.want)
			}
		})
	}
}

func TestLoadCredibilityTable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "credibility.yaml")
	data := []byte(`
sources:
  web: 0.3
sub_sources:
  Reuters.com: 0.95
fallback: 0.2
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tbl, err := LoadCredibilityTable(path)
	if err != nil {
		t.Fatalf("LoadCredibilityTable: %v", err)
	}

	if got := tbl.Weight(SourceWeb, ""); got != 0.3 {
		t.Errorf("web = %v, want 0.3 from file", got)
	}
	if got := tbl.Weight(SourceNews, "reuters.com/markets"); got != 0.95 {
		t.Errorf("reuters = %v, want 0.95 from file", got)
	}
	if got := tbl.Weight(SourceNews, "other"); got != 1.0 {
		t.Errorf("news = %v, want default 1.0 kept", got)
	}
	if tbl.Fallback != 0.2 {
		t.Errorf("Fallback = %v, want 0.2", tbl.Fallback)
	}
}

func TestLoadCredibilityTable_Fallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want float64
	}{
		{"unset keeps default", "sources:\n  web: 0.3\n", DefaultCredibilityTable().Fallback},
		{"explicit zero", "fallback: 0\n", 0},
		{"explicit value", "fallback: 0.1\n", 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			tbl, err := LoadCredibilityTable(path)
			if err != nil {
				t.Fatalf("LoadCredibilityTable: %v", err)
			}
			if tbl.Fallback != tt.want {
				t.Errorf("Fallback = %v, want %v", tbl.Fallback, tt.want)
			}
		})
	}
}

func TestLoadCredibilityTable_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		kind error
	}{
		{"out of range", "sources:\n  news: 1.5\n", nil},
		{"unknown kind", "sources:\n  podcast: 0.5\n", ErrInvalidSourceKind},
		{"bad yaml", "sources: [\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadCredibilityTable(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.kind != nil && !errors.Is(err, tt.kind) {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
		})
	}
}

func TestLoadCredibilityTable_Missing(t *testing.T) {
	t.Parallel()

	if _, err := LoadCredibilityTable(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

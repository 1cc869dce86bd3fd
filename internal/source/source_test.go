package source

import (
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/repute/internal/incident"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  incident.MentionSource
		kind incident.SourceKind
		want incident.RawPayload
	}{
		{
			name: "article",
			src: &Article{
				Outlet: " Reuters.com ", Headline: "Acme recalls Model X", Body: "Batteries may overheat.",
				PublishedAt: at, URL: "https://reuters.com/a", Circulation: 250000,
			},
			kind: incident.SourceNews,
			want: incident.RawPayload{
				Text: "Acme recalls Model X. Batteries may overheat.", Timestamp: at,
				SourceID: "reuters.com", ReachEstimate: 250000, URL: "https://reuters.com/a",
			},
		},
		{
			name: "article headline only",
			src:  &Article{Outlet: "wire", Headline: "Is Acme hiding a recall?", PublishedAt: at},
			kind: incident.SourceNews,
			want: incident.RawPayload{Text: "Is Acme hiding a recall?", Timestamp: at, SourceID: "wire"},
		},
		{
			name: "page host from url",
			src: &Page{
				Title: "Model X owners thread", Content: "Mine caught fire!", CrawledAt: at,
				URL: "https://www.EVForum.example/t/123", Visitors: 900,
			},
			kind: incident.SourceWeb,
			want: incident.RawPayload{
				Text: "Model X owners thread. Mine caught fire!", Timestamp: at,
				SourceID: "evforum.example", ReachEstimate: 900, URL: "https://www.EVForum.example/t/123",
			},
		},
		{
			name: "post reach from views",
			src: &Post{
				Platform: "Twitter", Author: "@Alice", Text: " battery fire again ", PostedAt: at,
				Views: 5000, Followers: 1200, Likes: 10, Comments: 5, Shares: 2,
			},
			kind: incident.SourceSocial,
			want: incident.RawPayload{Text: "battery fire again", Timestamp: at, SourceID: "twitter/alice", ReachEstimate: 5017},
		},
		{
			name: "post reach from followers",
			src:  &Post{Platform: "reddit", Text: "hot take", PostedAt: at, Followers: 300, Likes: 1},
			kind: incident.SourceSocial,
			want: incident.RawPayload{Text: "hot take", Timestamp: at, SourceID: "reddit", ReachEstimate: 301},
		},
		{
			name: "report",
			src:  &Report{Channel: "Support", Reporter: "kim", Summary: "Caller reports smoke", ObservedAt: at, ReachEstimate: 1},
			kind: incident.SourceManual,
			want: incident.RawPayload{Text: "Caller reports smoke", Timestamp: at, SourceID: "support", ReachEstimate: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.src.Kind() != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.src.Kind(), tt.kind)
			}
			if got := tt.src.Payload(); got != tt.want {
				t.Errorf("Payload =\n%+v\nwant\n%+v", got, tt.want)
			}
		})
	}
}

func TestPost_NegativeCounterStaysNegative(t *testing.T) {
	t.Parallel()

	p := &Post{Platform: "x", Text: "t", PostedAt: at, Views: 10, Likes: -1}
	if got := p.Payload().ReachEstimate; got >= 0 {
		t.Errorf("ReachEstimate = %d, want negative so normalization rejects it", got)
	}
}

func TestPost_HugeCountersSaturate(t *testing.T) {
	t.Parallel()

	p := &Post{Platform: "x", Text: "t", PostedAt: at, Views: 1 << 62, Likes: 1 << 62, Shares: 1 << 62}
	raw := p.Payload()
	if raw.ReachEstimate != incident.MaxReachEstimate {
		t.Errorf("ReachEstimate = %d, want %d", raw.ReachEstimate, incident.MaxReachEstimate)
	}
	if _, err := incident.NewNormalizer(incident.DefaultCredibilityTable()).Normalize(raw, p.Kind()); err != nil {
		t.Errorf("Normalize: %v", err)
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    incident.SourceKind
		body    string
		wantErr error
	}{
		{"news", incident.SourceNews, `{"outlet":"wire","headline":"h","published_at":"2026-03-01T12:00:00Z"}`, nil},
		{"web", incident.SourceWeb, `{"url":"https://blog.example/p","title":"t","crawled_at":"2026-03-01T12:00:00Z"}`, nil},
		{"social", incident.SourceSocial, `{"platform":"youtube","author":"chan","text":"t","posted_at":"2026-03-01T12:00:00Z","views":3}`, nil},
		{"manual", incident.SourceManual, `{"channel":"email","summary":"s","observed_at":"2026-03-01T12:00:00Z"}`, nil},
		{"unknown kind", "radio", `{}`, incident.ErrInvalidSourceKind},
		{"invalid json", incident.SourceNews, `{bad`, incident.ErrMalformedPayload},
		{"empty body", incident.SourceWeb, "  ", incident.ErrMalformedPayload},
		{"wrong type", incident.SourceSocial, `{"views":"many"}`, incident.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, err := Decode(tt.kind, []byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if src.Kind() != tt.kind {
				t.Errorf("Kind = %q, want %q", src.Kind(), tt.kind)
			}
			if !src.Payload().Timestamp.Equal(at) {
				t.Errorf("Timestamp = %v, want %v", src.Payload().Timestamp, at)
			}
		})
	}
}

func TestDecode_FeedsNormalizer(t *testing.T) {
	t.Parallel()

	src, err := Decode(incident.SourceSocial, []byte(`{"platform":"YouTube","author":"Reviews","text":"Model X fire","posted_at":"2026-03-01T12:00:00Z","views":10}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev, err := incident.NewNormalizer(incident.DefaultCredibilityTable()).Normalize(src.Payload(), src.Kind())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.CredibilityWeight != 0.85 {
		t.Errorf("CredibilityWeight = %v, want youtube sub-source weight 0.85", ev.CredibilityWeight)
	}
}

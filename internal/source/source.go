// Package source maps the native shapes of mention feeds onto the engine's
// canonical raw payload. Each source kind has one variant.
package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/linnemanlabs/repute/internal/incident"
)

// Article is a story from a news outlet or wire feed.
type Article struct {
	Outlet      string    `json:"outlet"`
	Headline    string    `json:"headline"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url,omitempty"`
	Circulation int64     `json:"circulation"`
}

func (a *Article) Kind() incident.SourceKind { return incident.SourceNews }

func (a *Article) Payload() incident.RawPayload {
	return incident.RawPayload{
		Text:          joinText(a.Headline, a.Body),
		Timestamp:     a.PublishedAt,
		SourceID:      strings.ToLower(strings.TrimSpace(a.Outlet)),
		ReachEstimate: a.Circulation,
		URL:           a.URL,
	}
}

// Page is a crawled web page such as a blog post, forum thread or review.
type Page struct {
	Site      string    `json:"site,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CrawledAt time.Time `json:"crawled_at"`
	URL       string    `json:"url"`
	Visitors  int64     `json:"visitors"`
}

func (p *Page) Kind() incident.SourceKind { return incident.SourceWeb }

// Payload identifies the page by its site, falling back to the URL host.
func (p *Page) Payload() incident.RawPayload {
	site := strings.ToLower(strings.TrimSpace(p.Site))
	if site == "" {
		if u, err := url.Parse(p.URL); err == nil {
			site = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		}
	}
	return incident.RawPayload{
		Text:          joinText(p.Title, p.Content),
		Timestamp:     p.CrawledAt,
		SourceID:      site,
		ReachEstimate: p.Visitors,
		URL:           p.URL,
	}
}

// Post is a social media post with its engagement counters.
type Post struct {
	Platform  string    `json:"platform"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	PostedAt  time.Time `json:"posted_at"`
	URL       string    `json:"url,omitempty"`
	Views     int64     `json:"views"`
	Followers int64     `json:"followers"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	Shares    int64     `json:"shares"`
}

func (p *Post) Kind() incident.SourceKind { return incident.SourceSocial }

// Payload keys the post by platform and author so each account counts as one
// independent sub-source. Reach is audience plus engagement.
func (p *Post) Payload() incident.RawPayload {
	platform := strings.ToLower(strings.TrimSpace(p.Platform))
	id := platform
	if author := strings.TrimPrefix(strings.TrimSpace(p.Author), "@"); author != "" {
		id = platform + "/" + strings.ToLower(author)
	}
	return incident.RawPayload{
		Text:          strings.TrimSpace(p.Text),
		Timestamp:     p.PostedAt,
		SourceID:      id,
		ReachEstimate: p.reach(),
		URL:           p.URL,
	}
}

func (p *Post) reach() int64 {
	counters := []int64{p.Views, p.Followers, p.Likes, p.Comments, p.Shares}
	for _, c := range counters {
		if c < 0 {
			// surfaced as a malformed payload by the normalizer
			return c
		}
	}
	reach := max(p.Views, p.Followers)
	for _, c := range []int64{p.Likes, p.Comments, p.Shares} {
		reach = incident.AddReach(reach, c)
	}
	return reach
}

// Report is a mention entered by hand, e.g. from a support ticket or a call.
type Report struct {
	Channel       string    `json:"channel"`
	Reporter      string    `json:"reporter,omitempty"`
	Summary       string    `json:"summary"`
	ObservedAt    time.Time `json:"observed_at"`
	URL           string    `json:"url,omitempty"`
	ReachEstimate int64     `json:"reach_estimate"`
}

func (r *Report) Kind() incident.SourceKind { return incident.SourceManual }

func (r *Report) Payload() incident.RawPayload {
	return incident.RawPayload{
		Text:          strings.TrimSpace(r.Summary),
		Timestamp:     r.ObservedAt,
		SourceID:      strings.ToLower(strings.TrimSpace(r.Channel)),
		ReachEstimate: r.ReachEstimate,
		URL:           r.URL,
	}
}

// New returns an empty variant for kind.
func New(kind incident.SourceKind) (incident.MentionSource, error) {
	switch kind {
	case incident.SourceNews:
		return &Article{}, nil
	case incident.SourceWeb:
		return &Page{}, nil
	case incident.SourceSocial:
		return &Post{}, nil
	case incident.SourceManual:
		return &Report{}, nil
	}
	return nil, fmt.Errorf("%w: %q", incident.ErrInvalidSourceKind, kind)
}

// Decode parses data as the native shape of kind.
func Decode(kind incident.SourceKind, data []byte) (incident.MentionSource, error) {
	src, err := New(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", incident.ErrMalformedPayload, kind)
	}
	if err := json.Unmarshal(data, src); err != nil {
		return nil, fmt.Errorf("%w: decode %s payload: %w", incident.ErrMalformedPayload, kind, err)
	}
	return src, nil
}

func joinText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	case strings.HasSuffix(title, ".") || strings.HasSuffix(title, "?") || strings.HasSuffix(title, "!"):
		return title + " " + body
	}
	return title + ". " + body
}

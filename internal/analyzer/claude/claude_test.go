package claude

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/repute/internal/analyzer"
)

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":            "msg_01",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 120, "output_tokens": 40},
	}
}

func newTestAnalyzer(t *testing.T, h http.HandlerFunc) *Analyzer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New("test-key", "claude-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
}

func TestAnalyze_Success(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	a := newTestAnalyzer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("x-api-key = %q", r.Header.Get("X-Api-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse(
			`{"claim_summary":"Model X batteries catch fire","severity_flags":["safety"],"response_draft":"We are investigating."}`,
		))
	})

	res, err := a.Analyze(context.Background(), "Acme Model X batteries catching fire")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.ClaimSummary != "Model X batteries catch fire" {
		t.Errorf("ClaimSummary = %q", res.ClaimSummary)
	}
	if len(res.SeverityFlags) != 1 || res.SeverityFlags[0] != "safety" {
		t.Errorf("SeverityFlags = %v", res.SeverityFlags)
	}
	if res.ResponseDraft == "" {
		t.Error("ResponseDraft empty")
	}

	if gotBody["model"] != "claude-test" {
		t.Errorf("model = %v, want claude-test", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 || !strings.Contains(string(mustJSON(t, msgs[0])), "Model X batteries") {
		t.Errorf("messages = %v, want the mention text", gotBody["messages"])
	}
}

func TestAnalyze_APIError(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	})

	_, err := a.Analyze(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("err = %v, want anthropic API error with status 429", err)
	}
}

func TestAnalyze_Unparseable(t *testing.T) {
	t.Parallel()

	a := newTestAnalyzer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("I would rather not say."))
	})

	_, err := a.Analyze(context.Background(), "text")
	if !errors.Is(err, analyzer.ErrUnparseable) {
		t.Errorf("err = %v, want ErrUnparseable", err)
	}
}

func TestTextOf(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: `{"claim_summary":`},
		{Type: "thinking"},
		{Type: "text", Text: `"x"}`},
	}}
	if got := textOf(msg); got != `{"claim_summary":"x"}` {
		t.Errorf("textOf = %q", got)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

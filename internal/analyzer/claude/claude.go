// Package claude implements the claim analyzer on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/repute/internal/analyzer"
	"github.com/linnemanlabs/repute/internal/incident"
)

// Analyzer asks Claude to summarize and classify a mention.
type Analyzer struct {
	client anthropic.Client
	model  string
}

// New creates a Claude analyzer. Extra options are passed to the SDK client.
func New(apiKey, model string, opts ...option.RequestOption) *Analyzer {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Analyzer{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, text string) (*incident.Analysis, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   analyzer.MaxTokens,
		Temperature: anthropic.Float(0.2),
		System:      []anthropic.TextBlockParam{{Text: analyzer.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(analyzer.UserPrompt(text))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude messages: %w", err)
	}
	return analyzer.ParseAnalysis(textOf(msg))
}

// textOf joins the text blocks of a response.
func textOf(msg *anthropic.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

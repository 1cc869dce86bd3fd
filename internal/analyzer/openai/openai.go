// Package openai implements the claim analyzer on the OpenAI chat completions API.
package openai

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/linnemanlabs/repute/internal/analyzer"
	"github.com/linnemanlabs/repute/internal/incident"
)

// DefaultModel is used when no model is configured.
const DefaultModel = goopenai.GPT4oMini

// Config selects the account and model.
type Config struct {
	APIKey  string
	OrgID   string
	Model   string
	BaseURL string
}

// Analyzer asks an OpenAI model to summarize and classify a mention.
type Analyzer struct {
	client *goopenai.Client
	model  string
}

// New creates an OpenAI analyzer.
func New(cfg Config) *Analyzer {
	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	cc.OrgID = cfg.OrgID

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Analyzer{
		client: goopenai.NewClientWithConfig(cc),
		model:  model,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, text string) (*incident.Analysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: a.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: analyzer.SystemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: analyzer.UserPrompt(text)},
		},
		MaxTokens:   analyzer.MaxTokens,
		Temperature: 0.2,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", analyzer.ErrUnparseable)
	}
	return analyzer.ParseAnalysis(resp.Choices[0].Message.Content)
}

package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// hiddenReasoningModels stream reasoning tokens unless told not to; the
// booking flow only wants the final message and tool calls.
var hiddenReasoningModels = map[string]bool{
	"x-ai/grok-4.1-fast": true,
}

// Config is the connection to an OpenAI-compatible endpoint, OpenRouter by
// default. It carries no env tags; callers map their own config onto it.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string
	MaxCompletionToken *int
	Temperature        float32
	Timeout            time.Duration
	SiteURL            string
	SiteName           string
}

func (c Config) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// NewChatModel builds the eino tool-calling chat model used by the reasoner.
func NewChatModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	name := strings.TrimSpace(cfg.Model)
	temperature := cfg.Temperature

	conf := &openaimodel.ChatModelConfig{
		BaseURL:     cfg.baseURL(),
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Model:       name,
		MaxTokens:   cfg.MaxCompletionToken,
		Temperature: &temperature,
		Timeout:     cfg.Timeout,
	}
	if hiddenReasoningModels[name] {
		conf.ExtraFields = map[string]any{
			"reasoning": map[string]any{"exclude": true, "effort": "none"},
		}
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model %q: %w", name, err)
	}
	return m, nil
}

// NewClient returns a raw SDK client for calls eino does not cover, or nil
// when no API key is set.
func NewClient(cfg Config) *openaisdk.Client {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if u := cfg.baseURL(); u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	// OpenRouter attribution headers.
	if cfg.SiteURL != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.SiteURL))
	}
	if cfg.SiteName != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.SiteName))
	}

	client := openaisdk.NewClient(opts...)
	return &client
}

// VerifyModel fails when the configured model id is not in the provider's
// model list, so a typo surfaces at startup instead of on the first turn.
func VerifyModel(ctx context.Context, client *openaisdk.Client, modelID string) error {
	if client == nil {
		return errors.New("openrouter: client is nil")
	}
	modelID = strings.TrimSpace(modelID)

	page, err := client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openrouter: list models: %w", err)
	}
	for _, m := range page.Data {
		if m.ID == modelID {
			return nil
		}
	}
	return fmt.Errorf("openrouter: model %q is not available", modelID)
}

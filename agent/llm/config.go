// Package llm holds the reasoning model settings read from LLM_* variables.
package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
	openrouterx "github.com/tanpawarit/booking-concierge/pkg/openrouter"
)

type Config struct {
	BaseURL   string `envconfig:"BASE_URL" default:"https://openrouter.ai/api/v1"`
	APIKey    string `envconfig:"API_KEY"`
	Model     string `envconfig:"MODEL"`
	MaxTokens int    `envconfig:"MAX_COMPLETION_TOKEN" default:"1200"`
	// Booking extraction wants near-deterministic output.
	Temperature float32       `envconfig:"TEMPERATURE" default:"0.2"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"30s"`
	SiteURL     string        `envconfig:"SITE_URL"`
	SiteName    string        `envconfig:"SITE_NAME"`
	VerifyModel bool          `envconfig:"VERIFY_MODEL" default:"true"`
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.APIKey) == "":
		return fmt.Errorf("%w: LLM_API_KEY is required", contractx.ErrValidation)
	case strings.TrimSpace(c.Model) == "":
		return fmt.Errorf("%w: LLM_MODEL is required", contractx.ErrValidation)
	case c.MaxTokens <= 0:
		return fmt.Errorf("%w: LLM_MAX_COMPLETION_TOKEN must be positive", contractx.ErrValidation)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: LLM_TEMPERATURE %.2f outside [0, 2]", contractx.ErrValidation, c.Temperature)
	}
	return nil
}

// OpenRouter maps the settings onto the chat model client config.
func (c Config) OpenRouter() openrouterx.Config {
	maxTokens := c.MaxTokens
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxTokens,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

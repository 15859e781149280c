package llm

import (
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/booking-concierge/agent/contract"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{APIKey: "k", Model: "m", MaxTokens: 800, Temperature: 0.2}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	broken := map[string]func(*Config){
		"no key":      func(c *Config) { c.APIKey = "" },
		"blank model": func(c *Config) { c.Model = " " },
		"no tokens":   func(c *Config) { c.MaxTokens = 0 },
		"too hot":     func(c *Config) { c.Temperature = 2.5 },
	}
	for name, mutate := range broken {
		cfg := valid
		mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, contractx.ErrValidation) {
			t.Errorf("%s: Validate() error = %v, want ErrValidation", name, err)
		}
	}
}

func TestConfigOpenRouter(t *testing.T) {
	t.Parallel()

	cfg := Config{
		BaseURL:     "https://openrouter.ai/api/v1",
		APIKey:      " key ",
		Model:       " openai/gpt-4o-mini ",
		MaxTokens:   800,
		Temperature: 0.1,
		Timeout:     5 * time.Second,
	}
	got := cfg.OpenRouter()
	if got.APIKey != "key" || got.Model != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected config: %#v", got)
	}
	if got.MaxCompletionToken == nil || *got.MaxCompletionToken != 800 {
		t.Fatalf("unexpected max tokens: %v", got.MaxCompletionToken)
	}
}

package llm

import (
	"context"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/droverhq/drover/pkg/schema"
)

// Provider selects the chat model backend.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
)

// ModelConfig describes one model identity.
type ModelConfig struct {
	Provider    Provider      `json:"provider"`
	Model       string        `json:"model"`
	APIKey      string        `json:"api_key"`
	BaseURL     string        `json:"base_url,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// NewChatModel constructs the backend chat model for a config.
func NewChatModel(ctx context.Context, cfg ModelConfig) (model.ToolCallingChatModel, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 16 * 1024
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 600 * time.Second
	}

	var temperature *float32
	if cfg.Temperature != 0 {
		t := cfg.Temperature
		temperature = &t
	}

	switch cfg.Provider {
	case ProviderOpenAI:
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: temperature,
			MaxTokens:   &maxTokens,
			Timeout:     timeout,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeModel, "openai model %s: %s", cfg.Model, err.Error()).WithCause(err)
		}
		return m, nil
	case ProviderClaude:
		claudeCfg := &claude.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}
		if cfg.BaseURL != "" {
			claudeCfg.BaseURL = &cfg.BaseURL
		}
		m, err := claude.NewChatModel(ctx, claudeCfg)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeModel, "claude model %s: %s", cfg.Model, err.Error()).WithCause(err)
		}
		return m, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeModel, "unsupported provider %q", cfg.Provider)
	}
}

// Package llm is the text-generation collaborator: chat models with a
// per-call fallback chain and an optional structured-output mode where the
// reply is validated against a declared schema.
package llm

import (
	"context"
	"log/slog"
	"os"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"

	"github.com/droverhq/drover/pkg/schema"
)

// Client is what pipeline nodes program against.
type Client interface {
	// Generate runs the conversation through the model chain and returns
	// the free-text reply.
	Generate(ctx context.Context, conversation []schema.Message) (string, error)
	// GenerateStructured asks for a reply conforming to the JSON schema of
	// out and decodes the validated reply into it.
	GenerateStructured(ctx context.Context, conversation []schema.Message, out any) error
}

// Chain is a Client backed by a primary model plus fallbacks: when one
// identity fails, the identical request is retried against the next before
// any failure surfaces.
type Chain struct {
	name   string
	models []model.ToolCallingChatModel
	logger *slog.Logger
}

// NewChain builds a Chain from model configs, first config primary.
func NewChain(ctx context.Context, name string, logger *slog.Logger, configs ...ModelConfig) (*Chain, error) {
	if len(configs) == 0 {
		return nil, schema.NewError(schema.ErrCodeModel, "chain requires at least one model config")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	c := &Chain{name: name, logger: logger}
	for _, cfg := range configs {
		m, err := NewChatModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.models = append(c.models, m)
	}
	return c, nil
}

// NewChainFromModels builds a Chain from pre-constructed models. Used by
// tests with stub models.
func NewChainFromModels(name string, logger *slog.Logger, models ...model.ToolCallingChatModel) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Chain{name: name, models: models, logger: logger}
}

// Name returns the chain's identity label.
func (c *Chain) Name() string { return c.name }

func (c *Chain) Generate(ctx context.Context, conversation []schema.Message) (string, error) {
	msgs := toEinoMessages(conversation)

	var lastErr error
	for i, m := range c.models {
		reply, err := m.Generate(ctx, msgs)
		if err == nil {
			return reply.Content, nil
		}
		lastErr = err
		c.logger.WarnContext(ctx, "model identity failed, trying fallback",
			slog.String("chain", c.name),
			slog.Int("identity", i),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", schema.NewErrorf(schema.ErrCodeModel, "chain %s: all identities failed: %s",
		c.name, lastErr.Error()).WithCause(lastErr)
}

func toEinoMessages(conversation []schema.Message) []*einoschema.Message {
	msgs := make([]*einoschema.Message, 0, len(conversation))
	for _, m := range conversation {
		switch m.Role {
		case schema.RoleSystem:
			msgs = append(msgs, einoschema.SystemMessage(m.Content))
		case schema.RoleAssistant:
			msgs = append(msgs, einoschema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, einoschema.UserMessage(m.Content))
		}
	}
	return msgs
}

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverhq/drover/pkg/schema"
)

// stubModel is a scripted chat model for tests.
type stubModel struct {
	reply string
	err   error
	calls int
	seen  []*einoschema.Message
}

func (s *stubModel) Generate(_ context.Context, in []*einoschema.Message, _ ...model.Option) (*einoschema.Message, error) {
	s.calls++
	s.seen = in
	if s.err != nil {
		return nil, s.err
	}
	return einoschema.AssistantMessage(s.reply, nil), nil
}

func (s *stubModel) Stream(_ context.Context, _ []*einoschema.Message, _ ...model.Option) (*einoschema.StreamReader[*einoschema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (s *stubModel) WithTools(_ []*einoschema.ToolInfo) (model.ToolCallingChatModel, error) {
	return s, nil
}

func conv(contents ...string) []schema.Message {
	var msgs []schema.Message
	for i, c := range contents {
		role := schema.RoleUser
		if i == 0 {
			role = schema.RoleSystem
		}
		msgs = append(msgs, schema.Message{Role: role, Content: c})
	}
	return msgs
}

func TestChain_Generate(t *testing.T) {
	primary := &stubModel{reply: "hello"}
	chain := NewChainFromModels("agent", nil, primary)

	out, err := chain.Generate(context.Background(), conv("sys", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	require.Len(t, primary.seen, 2)
	assert.Equal(t, einoschema.System, primary.seen[0].Role)
	assert.Equal(t, einoschema.User, primary.seen[1].Role)
}

func TestChain_FallbackOnPrimaryFailure(t *testing.T) {
	primary := &stubModel{err: errors.New("503 service unavailable")}
	fallback := &stubModel{reply: "from fallback"}
	chain := NewChainFromModels("agent", nil, primary, fallback)

	out, err := chain.Generate(context.Background(), conv("sys", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "from fallback", out)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestChain_AllIdentitiesFailed(t *testing.T) {
	chain := NewChainFromModels("agent", nil,
		&stubModel{err: errors.New("down")},
		&stubModel{err: errors.New("also down")},
	)

	_, err := chain.Generate(context.Background(), conv("sys", "hi"))
	require.Error(t, err)
	var dErr *schema.DroverError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, schema.ErrCodeModel, dErr.Code)
}

type selection struct {
	Name   string `json:"name" jsonschema:"description=variable name"`
	Reason string `json:"reason" jsonschema:"description=why it should persist"`
}

func TestChain_GenerateStructured(t *testing.T) {
	m := &stubModel{reply: "```json\n{\"name\":\"df_clean\",\"reason\":\"needed downstream\"}\n```"}
	chain := NewChainFromModels("selector", nil, m)

	var out selection
	err := chain.GenerateStructured(context.Background(), conv("sys", "pick"), &out)
	require.NoError(t, err)
	assert.Equal(t, "df_clean", out.Name)
	assert.Equal(t, "needed downstream", out.Reason)

	// The schema instruction is appended as a final system message.
	last := m.seen[len(m.seen)-1]
	assert.Equal(t, einoschema.System, last.Role)
	assert.Contains(t, last.Content, "JSON schema")
}

func TestChain_GenerateStructured_InvalidJSONRejected(t *testing.T) {
	m := &stubModel{reply: "sorry, I cannot answer that"}
	chain := NewChainFromModels("selector", nil, m)

	var out selection
	err := chain.GenerateStructured(context.Background(), conv("sys", "pick"), &out)
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`here you go: {"a":1} hope that helps`))
	assert.Equal(t, `{"a":1}`, extractJSON(`{"a":1}`))
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	jsvalidate "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/droverhq/drover/pkg/schema"
)

const structuredInstruction = "Reply with a single JSON object conforming to this JSON schema. " +
	"Do not include any prose outside the JSON.\n\nSchema:\n%s"

var (
	schemaCacheMu sync.Mutex
	schemaCache   = map[string]*compiledSchema{}
)

type compiledSchema struct {
	raw      []byte
	compiled *jsvalidate.Schema
}

// GenerateStructured requests a reply conforming to out's JSON schema,
// validates it and decodes it into out. The schema is generated from the
// struct's fields, types and jsonschema descriptions.
func (c *Chain) GenerateStructured(ctx context.Context, conversation []schema.Message, out any) error {
	cs, err := schemaFor(out)
	if err != nil {
		return err
	}

	augmented := make([]schema.Message, 0, len(conversation)+1)
	augmented = append(augmented, conversation...)
	augmented = append(augmented, schema.Message{
		Role:    schema.RoleSystem,
		Content: fmt.Sprintf(structuredInstruction, string(cs.raw)),
	})

	reply, err := c.Generate(ctx, augmented)
	if err != nil {
		return err
	}

	payload := extractJSON(reply)

	inst, err := jsvalidate.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeModel, "chain %s: reply is not valid JSON: %s", c.name, err.Error()).WithCause(err)
	}
	if err := cs.compiled.Validate(inst); err != nil {
		return schema.NewErrorf(schema.ErrCodeModel, "chain %s: reply violates schema: %s", c.name, err.Error()).WithCause(err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return schema.NewErrorf(schema.ErrCodeModel, "chain %s: decode reply: %s", c.name, err.Error()).WithCause(err)
	}
	return nil
}

// schemaFor reflects and compiles the JSON schema for a target type,
// caching per type.
func schemaFor(out any) (*compiledSchema, error) {
	key := fmt.Sprintf("%T", out)

	schemaCacheMu.Lock()
	defer schemaCacheMu.Unlock()
	if cs, ok := schemaCache[key]; ok {
		return cs, nil
	}

	reflector := &invopop.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	raw, err := json.Marshal(reflector.Reflect(out))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeModel, "reflect schema for %s: %s", key, err.Error()).WithCause(err)
	}

	doc, err := jsvalidate.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeModel, "parse schema for %s: %s", key, err.Error()).WithCause(err)
	}
	compiler := jsvalidate.NewCompiler()
	if err := compiler.AddResource("structured.json", doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeModel, "add schema resource: %s", err.Error()).WithCause(err)
	}
	compiled, err := compiler.Compile("structured.json")
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeModel, "compile schema for %s: %s", key, err.Error()).WithCause(err)
	}

	cs := &compiledSchema{raw: raw, compiled: compiled}
	schemaCache[key] = cs
	return cs, nil
}

// extractJSON strips markdown fences and surrounding prose from a model
// reply, keeping the outermost JSON object.
func extractJSON(reply string) string {
	s := strings.TrimSpace(reply)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

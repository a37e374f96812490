package checkpoint

import (
	"encoding/base64"
	"encoding/json"

	"github.com/droverhq/drover/internal/table"
	"github.com/droverhq/drover/pkg/schema"
)

// stateEnvelope versions the serialized state so the format can evolve
// without breaking resume of old runs.
type stateEnvelope struct {
	Version int           `json:"version"`
	State   *schema.State `json:"state"`
}

const stateVersion = 1

// EncodeState serializes a state container into its durable form.
func EncodeState(s *schema.State) ([]byte, error) {
	data, err := json.Marshal(stateEnvelope{Version: stateVersion, State: s})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "encode state: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// DecodeState reconstructs a state container, verifying that typed artifact
// payloads are intact (tabular envelopes must parse into tables).
func DecodeState(data []byte) (*schema.State, error) {
	var env stateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode state: %s", err.Error()).WithCause(err)
	}
	if env.State == nil {
		return nil, schema.NewError(schema.ErrCodeStore, "decode state: empty envelope")
	}
	for _, a := range env.State.Artifacts {
		if a.Kind == schema.ArtifactTabular {
			if _, err := table.Decode(a.Value); err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeStore,
					"artifact %q: corrupt tabular payload: %s", a.Key, err.Error()).WithCause(err)
			}
		}
	}
	return env.State, nil
}

// EncodeArtifactValue builds the kind-specific JSON envelope for an
// artifact payload. Tabular values take the column/row form, structured
// values their JSON, text values a JSON string, and anything opaque falls
// back to base64 bytes.
func EncodeArtifactValue(kind schema.ArtifactKind, value any) (json.RawMessage, error) {
	switch kind {
	case schema.ArtifactTabular:
		t, ok := value.(*table.Table)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "tabular artifact requires a table value")
		}
		return t.Encode()
	case schema.ArtifactImage:
		b, ok := value.([]byte)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "image artifact requires raw bytes")
		}
		return json.Marshal(base64.StdEncoding.EncodeToString(b))
	case schema.ArtifactText, schema.ArtifactString:
		s, ok := value.(string)
		if !ok {
			return nil, schema.NewError(schema.ErrCodeValidation, "text artifact requires a string value")
		}
		return json.Marshal(s)
	default: // structured and unknown kinds
		data, err := json.Marshal(value)
		if err != nil {
			// Opaque binary fallback for values JSON cannot express.
			if b, isBytes := value.([]byte); isBytes {
				return json.Marshal(base64.StdEncoding.EncodeToString(b))
			}
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode artifact value: %s", err.Error()).WithCause(err)
		}
		return data, nil
	}
}

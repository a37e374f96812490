// Package sandbox defines the isolated code-execution collaborator: an
// opaque service that owns long-lived sessions, accepts file uploads and
// runs code, reporting logs, structured results and errors.
package sandbox

import (
	"context"

	"github.com/droverhq/drover/internal/table"
	"github.com/droverhq/drover/pkg/schema"
)

// Sandbox is the execution collaborator contract. A session is exclusively
// owned by one stage at a time and survives across stages so named
// bindings stay addressable without re-upload.
type Sandbox interface {
	AcquireSession(ctx context.Context) (string, error)
	WriteFile(ctx context.Context, session, path string, content []byte) (string, error)
	RunCode(ctx context.Context, session, code string) (*Execution, error)
}

// Execution is the outcome of running one code block.
type Execution struct {
	Stdout  []string   `json:"stdout,omitempty"`
	Stderr  []string   `json:"stderr,omitempty"`
	Results []Result   `json:"results,omitempty"`
	Error   *ExecError `json:"error,omitempty"`
}

// Result is one structured value the sandbox reported, classified into the
// artifact kind set.
type Result struct {
	Kind  schema.ArtifactKind `json:"kind"`
	Text  string              `json:"text,omitempty"`
	Table *table.Table        `json:"table,omitempty"`
	PNG   []byte              `json:"png,omitempty"`
}

// ExecError describes a failed execution: the error name, message and raw
// traceback as reported by the sandbox runtime.
type ExecError struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
}

// Code maps the sandbox error name onto a drover error code. Programming
// errors land on the retry deny-list; everything else stays retryable as
// a generic execution failure.
func (e *ExecError) Code() string {
	switch e.Name {
	case "TypeError":
		return schema.ErrCodeTypeError
	case "ValueError":
		return schema.ErrCodeValueError
	case "KeyError", "IndexError", "AttributeError", "NameError":
		return schema.ErrCodeLookupError
	case "SyntaxError", "IndentationError":
		return schema.ErrCodeSyntaxError
	case "ImportError", "ModuleNotFoundError":
		return schema.ErrCodeImportError
	default:
		return schema.ErrCodeExecution
	}
}

// Package table holds the column/row envelope used for tabular artifact
// payloads. It is a serialization format, not a compute engine: values
// round-trip through JSON with documented scalar normalization.
package table

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/droverhq/drover/pkg/schema"
)

// Table is a rectangular tabular value. Every row has len(Columns) cells.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// New builds a table from columns and rows, normalizing every cell.
func New(columns []string, rows [][]any) (*Table, error) {
	t := &Table{Columns: append([]string(nil), columns...)}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"row %d has %d cells, want %d", i, len(row), len(columns))
		}
		norm := make([]any, len(row))
		for j, cell := range row {
			norm[j] = NormalizeCell(cell)
		}
		t.Rows = append(t.Rows, norm)
	}
	return t, nil
}

// NormalizeCell maps a cell value onto the JSON-representable scalar set.
// Temporal values become their string form; unrepresentable values fall
// back to fmt formatting.
func NormalizeCell(v any) any {
	switch c := v.(type) {
	case nil, bool, string, float64, float32, int, int32, int64, json.Number:
		return c
	case time.Time:
		return c.Format(time.RFC3339)
	case fmt.Stringer:
		return c.String()
	default:
		if _, err := json.Marshal(c); err == nil {
			return c
		}
		return fmt.Sprintf("%v", c)
	}
}

// Encode serializes the table into its JSON envelope.
func (t *Table) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode table: %s", err.Error()).WithCause(err)
	}
	return data, nil
}

// Decode reconstructs a table from its JSON envelope.
func Decode(raw json.RawMessage) (*Table, error) {
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode table: %s", err.Error()).WithCause(err)
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return &t, nil
}

// RowCount returns the number of rows.
func (t *Table) RowCount() int { return len(t.Rows) }

package pipeline

import (
	"fmt"
	"strings"

	"github.com/droverhq/drover/internal/sandbox"
	"github.com/droverhq/drover/internal/table"
)

const (
	// TerminalMarker is the token the agent emits, alone in a response, to
	// signal the stage's iterative work is finished.
	TerminalMarker = "DONE"

	// NoOutputPlaceholder stands in for an execution that produced nothing.
	NoOutputPlaceholder = "No output from the code block."

	codeFence = "```python"

	tracebackBudget = 1000
	sampleBudget    = 1000
	tableHeadRows   = 3
)

// TruncateMiddle keeps the head and tail of s within maxLength characters,
// collapsing the middle and annotating how many characters were dropped.
func TruncateMiddle(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	half := maxLength / 2
	return fmt.Sprintf("%s ... [TRUNCATED, %d chars omitted] ... %s",
		s[:half], len(s)-maxLength, s[len(s)-half:])
}

// ExtractCodeBlock pulls the first fenced code block out of a model
// response. Returns false when the response has no well-formed block.
func ExtractCodeBlock(content string) (string, bool) {
	_, rest, found := strings.Cut(content, codeFence)
	if !found {
		return "", false
	}
	code, _, closed := strings.Cut(rest, "```")
	if !closed {
		return "", false
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", false
	}
	return code, true
}

// HasTerminalMarker reports whether the response carries the stage-done
// token.
func HasTerminalMarker(content string) bool {
	return strings.Contains(content, TerminalMarker)
}

// FormatExecution renders an execution outcome as the next conversation
// turn. Errors become name, message and a middle-truncated traceback;
// successes become labeled stdout/stderr/results blocks.
func FormatExecution(exec *sandbox.Execution) string {
	if exec.Error != nil {
		content := exec.Error.Name + ": " + exec.Error.Message
		traceback := "\n\n<traceback>\n" + exec.Error.Traceback + "\n</traceback>"
		return content + TruncateMiddle(traceback, tracebackBudget)
	}

	var parts []string
	if out := strings.Join(exec.Stdout, "\n"); out != "" {
		parts = append(parts, "<stdout>\n"+out+"\n</stdout>")
	}
	if errOut := strings.Join(exec.Stderr, "\n"); errOut != "" {
		parts = append(parts, "<stderr>\n"+errOut+"\n</stderr>")
	}
	if results := formatResults(exec.Results); results != "" {
		parts = append(parts, "<results>\n"+results+"\n</results>")
	}

	content := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if content == "" {
		return NoOutputPlaceholder
	}
	return content
}

// formatResults renders structured execution results one per line. Tabular
// values show dimensions plus the first rows; everything textual is
// middle-truncated to the sample budget.
func formatResults(results []sandbox.Result) string {
	var lines []string
	for _, r := range results {
		switch {
		case r.Table != nil:
			lines = append(lines, fmt.Sprintf("Table (%d rows x %d columns):\n%s",
				r.Table.RowCount(), len(r.Table.Columns), renderTableHead(r.Table, tableHeadRows)))
		case len(r.PNG) > 0:
			lines = append(lines, fmt.Sprintf("PNG image (%d bytes)", len(r.PNG)))
		default:
			lines = append(lines, TruncateMiddle(r.Text, sampleBudget))
		}
	}
	return strings.Join(lines, "\n")
}

// renderTableHead renders the column row plus up to n data rows.
func renderTableHead(t *table.Table, n int) string {
	var b strings.Builder
	b.WriteString(strings.Join(t.Columns, " | "))
	for i, row := range t.Rows {
		if i >= n {
			break
		}
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = fmt.Sprint(cell)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, " | "))
	}
	return b.String()
}

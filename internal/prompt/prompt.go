// Package prompt builds the system and user prompts for the unified
// analysis call. Prompt texts are baked into the binary with go:embed so
// the deployed binary has no filesystem dependencies.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"vizinsight/internal/dataset"
)

//go:embed prompts/unified_system.txt
var unifiedSystem string

//go:embed prompts/unified_strict_json_suffix.txt
var strictJSONSuffix string

// System returns the unified system prompt. When strict is true the
// strict-JSON suffix is appended, which is what the strict arm varies.
func System(strict bool) string {
	if !strict {
		return unifiedSystem
	}
	return unifiedSystem + "\n\n" + strings.TrimSpace(strictJSONSuffix) + "\n"
}

// Describer bounds how much dataset metadata goes into the prompt. Large
// schemas are truncated to keep token usage predictable.
type Describer struct {
	MaxSchemaColumns int
	MaxSampleRows    int
}

const (
	maxNumericStats    = 5
	maxCategoricalTops = 3
	topValuesPerColumn = 5
)

// BuildUser assembles the user prompt from the request text, prior
// conversation, and the loaded datasets.
func (d Describer) BuildUser(instruction, history string, frames []*dataset.Frame) string {
	if history == "" {
		history = "(No previous conversation)"
	}
	return fmt.Sprintf(
		"User Request: %s\n\n"+
			"Conversation History:\n%s\n\n"+
			"Available Datasets:\n%s\n\n"+
			"Analyze the request and respond with the appropriate JSON.",
		instruction, history, d.Describe(frames))
}

// Describe renders every dataset into bounded prompt context: shape, column
// inventory with types and cardinality, a small sample table, and summary
// statistics for a handful of numeric and categorical columns.
func (d Describer) Describe(frames []*dataset.Frame) string {
	parts := make([]string, 0, len(frames))
	for _, f := range frames {
		parts = append(parts, d.describeFrame(f))
	}
	return "\n\n" + strings.Join(parts, "\n\n"+strings.Repeat("=", 50)+"\n\n")
}

func (d Describer) describeFrame(f *dataset.Frame) string {
	displayCols := len(f.Columns)
	if d.MaxSchemaColumns > 0 && displayCols > d.MaxSchemaColumns {
		displayCols = d.MaxSchemaColumns
	}
	omitted := len(f.Columns) - displayCols

	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s\n", f.Name)
	fmt.Fprintf(&b, "Shape: %d rows × %d columns\n", f.NumRows(), f.NumCols())

	b.WriteString("Columns:\n")
	for col := 0; col < displayCols; col++ {
		fmt.Fprintf(&b, "  - %s (%s): %d non-null, %d unique values\n",
			f.Columns[col], f.ColumnKind(col), f.NonNull(col), f.Unique(col))
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "  - ... (%d more columns omitted)\n", omitted)
	}

	sampleRows := d.MaxSampleRows
	if sampleRows <= 0 {
		sampleRows = 3
	}
	fmt.Fprintf(&b, "Sample Data (first %d rows):\n%s", sampleRows, d.sampleTable(f, displayCols, sampleRows))

	if stats := d.numericStats(f, displayCols); stats != "" {
		b.WriteString("\nNumeric Column Statistics:\n")
		b.WriteString(stats)
	}
	if cats := d.categoricalSummaries(f, displayCols); cats != "" {
		b.WriteString("\nCategorical Column Summaries:\n")
		b.WriteString(cats)
	}
	return b.String()
}

func (d Describer) sampleTable(f *dataset.Frame, displayCols, sampleRows int) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	header := make(table.Row, displayCols)
	for col := 0; col < displayCols; col++ {
		header[col] = f.Columns[col]
	}
	t.AppendHeader(header)

	for i, row := range f.Rows {
		if i >= sampleRows {
			break
		}
		cells := make(table.Row, displayCols)
		for col := 0; col < displayCols; col++ {
			cells[col] = row[col]
		}
		t.AppendRow(cells)
	}
	return t.Render()
}

func (d Describer) numericStats(f *dataset.Frame, displayCols int) string {
	var lines []string
	for col := 0; col < displayCols && len(lines) < maxNumericStats; col++ {
		if f.ColumnKind(col) != dataset.KindNumeric {
			continue
		}
		s, ok := f.NumericStats(col)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("  - %s: min=%.2f, max=%.2f, mean=%.2f",
			f.Columns[col], s.Min, s.Max, s.Mean))
	}
	return strings.Join(lines, "\n")
}

func (d Describer) categoricalSummaries(f *dataset.Frame, displayCols int) string {
	var lines []string
	for col := 0; col < displayCols && len(lines) < maxCategoricalTops; col++ {
		if f.ColumnKind(col) != dataset.KindCategorical {
			continue
		}
		tops := f.TopValues(col, topValuesPerColumn)
		if len(tops) == 0 {
			continue
		}
		entries := make([]string, len(tops))
		for i, vc := range tops {
			entries[i] = fmt.Sprintf("%s(%d)", vc.Value, vc.Count)
		}
		lines = append(lines, fmt.Sprintf("  - %s top values: %s",
			f.Columns[col], strings.Join(entries, ", ")))
	}
	return strings.Join(lines, "\n")
}

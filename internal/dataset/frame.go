// Package dataset holds the in-memory tabular frame the pipeline reads.
// Frames are supplied fully materialized by the caller and are never mutated
// inside a request; the pipeline only inspects schema, samples and stats, and
// snapshots the full data to CSV for the execution sandbox.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a column for prompt context and profiling purposes.
type Kind int

const (
	KindCategorical Kind = iota
	KindNumeric
)

func (k Kind) String() string {
	if k == KindNumeric {
		return "numeric"
	}
	return "categorical"
}

// Frame is a named column-oriented table. Cells are kept as text; an empty
// string is a missing value. Numeric interpretation happens on demand.
type Frame struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// New builds a frame, padding or truncating rows to the column count so the
// table is always rectangular.
func New(name string, columns []string, rows [][]string) *Frame {
	width := len(columns)
	fixed := make([][]string, len(rows))
	for i, row := range rows {
		switch {
		case len(row) == width:
			fixed[i] = row
		case len(row) > width:
			fixed[i] = row[:width]
		default:
			padded := make([]string, width)
			copy(padded, row)
			fixed[i] = padded
		}
	}
	return &Frame{Name: name, Columns: columns, Rows: fixed}
}

// LoadCSV reads a CSV file into a frame. The first record is the header.
// Header whitespace is trimmed; ragged records are tolerated.
func LoadCSV(name, path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", path)
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return New(name, header, records[1:]), nil
}

// NumRows returns the row count.
func (f *Frame) NumRows() int { return len(f.Rows) }

// NumCols returns the column count.
func (f *Frame) NumCols() int { return len(f.Columns) }

// ColumnIndex returns the position of a named column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// ColumnKind infers whether a column is numeric: every non-missing cell must
// parse as a number and at least one cell must be present.
func (f *Frame) ColumnKind(col int) Kind {
	seen := false
	for _, row := range f.Rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return KindCategorical
		}
		seen = true
	}
	if !seen {
		return KindCategorical
	}
	return KindNumeric
}

// NonNull counts non-missing cells in a column.
func (f *Frame) NonNull(col int) int {
	n := 0
	for _, row := range f.Rows {
		if strings.TrimSpace(row[col]) != "" {
			n++
		}
	}
	return n
}

// Unique counts distinct non-missing values in a column.
func (f *Frame) Unique(col int) int {
	seen := make(map[string]struct{})
	for _, row := range f.Rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		seen[cell] = struct{}{}
	}
	return len(seen)
}

// Stats summarizes a numeric column.
type Stats struct {
	Min  float64
	Max  float64
	Mean float64
}

// NumericStats computes min/max/mean over parseable cells. ok is false when no
// cell parses.
func (f *Frame) NumericStats(col int) (Stats, bool) {
	var s Stats
	count := 0
	sum := 0.0
	for _, row := range f.Rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue
		}
		if count == 0 || v < s.Min {
			s.Min = v
		}
		if count == 0 || v > s.Max {
			s.Max = v
		}
		sum += v
		count++
	}
	if count == 0 {
		return Stats{}, false
	}
	s.Mean = sum / float64(count)
	return s, true
}

// ValueCount is one categorical value with its occurrence count.
type ValueCount struct {
	Value string
	Count int
}

// TopValues returns the n most frequent values of a column, most frequent
// first. Ties break on value order for stable output.
func (f *Frame) TopValues(col, n int) []ValueCount {
	counts := make(map[string]int)
	for _, row := range f.Rows {
		cell := strings.TrimSpace(row[col])
		if cell == "" {
			continue
		}
		counts[cell]++
	}
	out := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		out = append(out, ValueCount{Value: v, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// WriteCSV snapshots the frame to a temp CSV file and returns its path.
// The caller owns removal.
func (f *Frame) WriteCSV() (string, error) {
	tmp, err := os.CreateTemp("", "vizinsight-*.csv")
	if err != nil {
		return "", fmt.Errorf("create dataset snapshot: %w", err)
	}
	w := csv.NewWriter(tmp)
	if err := w.Write(f.Columns); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write dataset snapshot: %w", err)
	}
	for _, row := range f.Rows {
		if err := w.Write(row); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("write dataset snapshot: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("flush dataset snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close dataset snapshot: %w", err)
	}
	return tmp.Name(), nil
}

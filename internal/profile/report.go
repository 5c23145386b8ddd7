// Package profile generates HTML profiling reports for loaded datasets.
// Reports are written under a configurable directory keyed by a generated
// report id, so a serving layer can expose them at /profile/{id}.
package profile

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vizinsight/internal/dataset"
)

const topValuesShown = 5

// Reporter writes dataset overview reports to disk.
type Reporter struct {
	dir    string
	logger *zap.Logger
}

// NewReporter creates a Reporter that writes reports under dir.
func NewReporter(dir string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{dir: dir, logger: logger}
}

// Generate profiles a dataset and writes the HTML report to disk.
// Returns the report id and the file path.
func (r *Reporter) Generate(f *dataset.Frame) (string, string, error) {
	id := uuid.NewString()

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(r.dir, id+".html")

	out, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to create report file: %w", err)
	}
	defer out.Close()

	if err := reportTemplate.Execute(out, buildReport(f)); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("failed to render report: %w", err)
	}

	r.logger.Info("profile report generated",
		zap.String("report_id", id),
		zap.String("dataset", f.Name),
		zap.String("path", path))
	return id, path, nil
}

// Path returns the on-disk location of a previously generated report.
func (r *Reporter) Path(id string) string {
	return filepath.Join(r.dir, id+".html")
}

type reportData struct {
	Dataset string
	Rows    int
	Cols    int
	Columns []columnReport
}

type columnReport struct {
	Name    string
	Kind    string
	NonNull int
	Unique  int
	Stats   string
	Top     string
}

func buildReport(f *dataset.Frame) reportData {
	data := reportData{
		Dataset: f.Name,
		Rows:    f.NumRows(),
		Cols:    f.NumCols(),
	}
	for col := range f.Columns {
		cr := columnReport{
			Name:    f.Columns[col],
			Kind:    f.ColumnKind(col).String(),
			NonNull: f.NonNull(col),
			Unique:  f.Unique(col),
		}
		if f.ColumnKind(col) == dataset.KindNumeric {
			if s, ok := f.NumericStats(col); ok {
				cr.Stats = fmt.Sprintf("min=%.2f max=%.2f mean=%.2f", s.Min, s.Max, s.Mean)
			}
		} else {
			tops := f.TopValues(col, topValuesShown)
			for i, vc := range tops {
				if i > 0 {
					cr.Top += ", "
				}
				cr.Top += fmt.Sprintf("%s (%d)", vc.Value, vc.Count)
			}
		}
		data.Columns = append(data.Columns, cr)
	}
	return data
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Profile Report: {{.Dataset}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #ccc; padding: 0.4rem 0.8rem; text-align: left; }
th { background: #f0f0f0; }
.meta { color: #666; }
</style>
</head>
<body>
<h1>Profile Report: {{.Dataset}}</h1>
<p class="meta">{{.Rows}} rows &times; {{.Cols}} columns</p>
<table>
<tr><th>Column</th><th>Type</th><th>Non-null</th><th>Unique</th><th>Statistics</th><th>Top values</th></tr>
{{range .Columns}}<tr>
<td>{{.Name}}</td><td>{{.Kind}}</td><td>{{.NonNull}}</td><td>{{.Unique}}</td><td>{{.Stats}}</td><td>{{.Top}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

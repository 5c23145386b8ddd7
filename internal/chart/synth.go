package chart

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrNoValues means the transformation produced no values object to chart.
var ErrNoValues = errors.New("no computed values to synthesize chart from")

// Synthesize converts the computed values JSON into a chart spec for the
// given graph type. It is a pure function: same input, same spec. The input
// is the raw bytes of the values object so that heatmap axes can follow the
// document's key order. An empty-but-valid input yields a spec with no
// traces rather than an error.
func Synthesize(raw json.RawMessage, graphType string) (*Spec, error) {
	var values map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, fmt.Errorf("undecodable values object: %w", err)
		}
	}
	if values == nil {
		return nil, ErrNoValues
	}

	switch graphType {
	case "pie":
		return synthesizePie(values), nil
	case "heatmap":
		rowOrder, colOrder := zKeyOrder(raw)
		return synthesizeHeatmap(values, rowOrder, colOrder), nil
	default:
		return synthesizeSeries(values, graphType), nil
	}
}

func synthesizePie(values map[string]interface{}) *Spec {
	labels, _ := asSlice(values["labels"])
	pieValues, ok := asSlice(values["values"])
	if !ok {
		pieValues, _ = asSlice(values["data"])
	}

	// Fallback: take the first entry of a datasets array.
	if len(labels) == 0 || len(pieValues) == 0 {
		if datasets, ok := asSlice(values["datasets"]); ok && len(datasets) > 0 {
			if ds, ok := asMap(datasets[0]); ok {
				labels, _ = asSlice(values["labels"])
				if v, ok := asSlice(ds["data"]); ok {
					pieValues = v
				} else if v, ok := asSlice(ds["values"]); ok {
					pieValues = v
				}
			}
		}
	}

	spec := &Spec{Layout: defaultLayout()}
	spec.Traces = append(spec.Traces, Trace{
		Type:      "pie",
		Labels:    labels,
		Values:    pieValues,
		TextInfo:  "label+percent",
		HoverInfo: "label+percent+value",
	})
	applyTitle(&spec.Layout, values)
	return spec
}

func synthesizeSeries(values map[string]interface{}, graphType string) *Spec {
	spec := &Spec{Layout: defaultLayout()}
	labels, _ := asSlice(values["labels"])

	if datasets, ok := asSlice(values["datasets"]); ok {
		for _, raw := range datasets {
			ds, ok := asMap(raw)
			if !ok {
				continue
			}
			name := stringOr(ds["label"], "Series")
			data, _ := asSlice(ds["data"])

			if graphType == "scatter" || graphType == "bubble" {
				if trace, ok := pointTrace(name, data, graphType == "bubble"); ok {
					spec.Traces = append(spec.Traces, trace)
				}
				continue
			}

			spec.Traces = append(spec.Traces, Trace{
				Type: graphType,
				Name: name,
				X:    labelsOrIndex(labels, len(data)),
				Y:    data,
			})
		}
	} else if data, ok := asSlice(values["data"]); ok {
		spec.Traces = append(spec.Traces, Trace{
			Type: graphType,
			Name: stringOr(values["label"], "Series"),
			X:    labelsOrIndex(labels, len(data)),
			Y:    data,
		})
	}

	applyAxisTitles(&spec.Layout, values)
	applyTitle(&spec.Layout, values)
	return spec
}

// pointTrace builds a scatter trace from {x, y[, size]} point objects. Returns
// false when the data points are not objects.
func pointTrace(name string, data []interface{}, bubble bool) (Trace, bool) {
	if len(data) == 0 {
		return Trace{}, false
	}
	first, ok := asMap(data[0])
	if !ok {
		return Trace{}, false
	}

	trace := Trace{
		Type: "scatter",
		Mode: "markers",
		Name: name,
	}
	for _, raw := range data {
		p, ok := asMap(raw)
		if !ok {
			p = map[string]interface{}{}
		}
		trace.X = append(trace.X, p["x"])
		trace.Y = append(trace.Y, p["y"])
	}

	if bubble {
		if _, hasSize := first["size"]; hasSize {
			sizes := make([]float64, 0, len(data))
			for _, raw := range data {
				size := 10.0
				if p, ok := asMap(raw); ok {
					if v := coerceNum(p["size"]); v != nil {
						size = *v
					}
				}
				sizes = append(sizes, size)
			}
			trace.Marker = &Marker{Size: sizes, SizeMode: "diameter", SizeRef: 1}
		}
	}
	return trace, true
}

func synthesizeHeatmap(values map[string]interface{}, rowOrder, colOrder []string) *Spec {
	zRaw, xLabels, yLabels := normalizeHeatmap(values, rowOrder, colOrder)
	if len(zRaw) == 0 {
		// Shapes that carry no matrix, like a plain {labels, data}, still
		// render through the generic series path.
		return synthesizeSeries(values, "heatmap")
	}
	spec := &Spec{Layout: defaultLayout()}

	// Coerce every cell to a finite number or null.
	cleaned := make([][]*float64, len(zRaw))
	colCount := 0
	for i, row := range zRaw {
		cells := make([]*float64, len(row))
		for j, v := range row {
			cells[j] = coerceNum(v)
		}
		cleaned[i] = cells
		if len(cells) > colCount {
			colCount = len(cells)
		}
	}
	if colCount == 0 {
		return spec
	}

	// Pad ragged rows to the widest row.
	for i, row := range cleaned {
		for len(row) < colCount {
			row = append(row, nil)
		}
		cleaned[i] = row
	}

	// Positional labels stand in when provided labels do not fit the matrix.
	if len(xLabels) != colCount {
		xLabels = indexLabels(colCount)
	}
	if len(yLabels) != len(cleaned) {
		yLabels = indexLabels(len(cleaned))
	}

	// Drop rows that are entirely null, then recompute column occupancy and
	// drop columns that are entirely null.
	var keptRows [][]*float64
	var keptY []interface{}
	for i, row := range cleaned {
		if !allNull(row) {
			keptRows = append(keptRows, row)
			keptY = append(keptY, yLabels[i])
		}
	}
	cleaned, yLabels = keptRows, keptY

	if len(cleaned) > 0 {
		keepCol := make([]bool, colCount)
		for c := 0; c < colCount; c++ {
			for _, row := range cleaned {
				if row[c] != nil {
					keepCol[c] = true
					break
				}
			}
		}
		var newX []interface{}
		for i, row := range cleaned {
			var newRow []*float64
			for c := 0; c < colCount; c++ {
				if keepCol[c] {
					newRow = append(newRow, row[c])
				}
			}
			cleaned[i] = newRow
		}
		for c := 0; c < colCount; c++ {
			if keepCol[c] {
				newX = append(newX, xLabels[c])
			}
		}
		xLabels = newX
	}

	// Range over the surviving finite cells.
	var zmin, zmax float64
	finite := 0
	for _, row := range cleaned {
		for _, v := range row {
			if v == nil {
				continue
			}
			if finite == 0 || *v < zmin {
				zmin = *v
			}
			if finite == 0 || *v > zmax {
				zmax = *v
			}
			finite++
		}
	}
	if finite == 0 {
		spec.Traces = nil
		return spec
	}

	// Correlation matrices live in [-1, 1]; snap when the observed range is
	// within tolerance of that interval.
	if zmin >= -1.05 && zmin <= 0 && zmax >= 0 && zmax <= 1.05 {
		zmin, zmax = -1.0, 1.0
	}

	trace := Trace{
		Type:       "heatmap",
		Z:          cleaned,
		Zmin:       &zmin,
		Zmax:       &zmax,
		Colorscale: stringOr(values["colorscale"], "Viridis"),
		Colorbar:   &Colorbar{Title: stringOr(values["colorbar_title"], "")},
	}
	if len(cleaned) > 0 && len(xLabels) == len(cleaned[0]) {
		trace.X = xLabels
	}
	if len(yLabels) == len(cleaned) {
		trace.Y = yLabels
	}
	spec.Traces = append(spec.Traces, trace)

	spec.Layout.XAxis = &Axis{Title: stringOr(values["xaxis_title"], ""), AutoMargin: true, TickAngle: -45}
	spec.Layout.YAxis = &Axis{Title: stringOr(values["yaxis_title"], ""), AutoMargin: true}
	applyTitle(&spec.Layout, values)
	return spec
}

// normalizeHeatmap turns the accepted input shapes into a row-major matrix
// with row labels y and column labels x. Shapes: matrix of rows, flat row,
// array of row objects, mapping of mappings, and {labels, datasets}.
// rowOrder and colOrder carry the document key order for the object-valued
// shapes, recovered from the raw bytes before map decoding discarded it.
func normalizeHeatmap(values map[string]interface{}, rowOrder, colOrder []string) (z [][]interface{}, x, y []interface{}) {
	xRaw, _ := asSlice(values["x"])
	yRaw, _ := asSlice(values["y"])

	if zSlice, ok := asSlice(values["z"]); ok {
		if len(zSlice) == 0 {
			return nil, nil, nil
		}

		// Flat array: treat as a single row.
		if _, isRow := asSlice(zSlice[0]); !isRow {
			if _, isObj := asMap(zSlice[0]); !isObj {
				return [][]interface{}{zSlice}, xRaw, yRaw
			}
		}

		// Array of row objects: column order from the first object's keys.
		if firstObj, ok := asMap(zSlice[0]); ok {
			colKeys := colOrder
			if len(colKeys) != len(firstObj) {
				colKeys = sortedKeys(firstObj)
			}
			var mat [][]interface{}
			for _, raw := range zSlice {
				obj, ok := asMap(raw)
				if !ok {
					continue
				}
				row := make([]interface{}, len(colKeys))
				for j, k := range colKeys {
					row[j] = obj[k]
				}
				mat = append(mat, row)
			}
			if len(yRaw) == 0 {
				yRaw = indexLabels(len(mat))
			}
			return mat, toAnySlice(colKeys), yRaw
		}

		// Matrix of rows.
		mat := make([][]interface{}, 0, len(zSlice))
		for _, raw := range zSlice {
			row, _ := asSlice(raw)
			mat = append(mat, row)
		}
		return mat, xRaw, yRaw
	}

	// Mapping of mappings, the shape a correlation table serializes to.
	if zMap, ok := asMap(values["z"]); ok {
		rowKeys := rowOrder
		if len(rowKeys) != len(zMap) {
			rowKeys = sortedKeys(zMap)
		}
		colKeys := colOrder
		if len(colKeys) == 0 {
			for _, rk := range rowKeys {
				if inner, ok := asMap(zMap[rk]); ok {
					colKeys = sortedKeys(inner)
					break
				}
			}
		}
		if len(colKeys) == 0 {
			for _, v := range xRaw {
				if s, ok := v.(string); ok {
					colKeys = append(colKeys, s)
				}
			}
		}
		var mat [][]interface{}
		for _, rk := range rowKeys {
			switch inner := zMap[rk].(type) {
			case map[string]interface{}:
				row := make([]interface{}, len(colKeys))
				for j, ck := range colKeys {
					row[j] = inner[ck]
				}
				mat = append(mat, row)
			case []interface{}:
				mat = append(mat, inner)
			default:
				mat = append(mat, nil)
			}
		}
		return mat, toAnySlice(colKeys), toAnySlice(rowKeys)
	}

	// {labels, datasets}: each dataset's data array is one matrix row.
	labels, hasLabels := asSlice(values["labels"])
	if datasets, ok := asSlice(values["datasets"]); ok && hasLabels {
		var mat [][]interface{}
		var rows []interface{}
		for i, raw := range datasets {
			ds, ok := asMap(raw)
			if !ok {
				continue
			}
			data, _ := asSlice(ds["data"])
			mat = append(mat, data)
			rows = append(rows, stringOr(ds["label"], fmt.Sprintf("Row %d", i+1)))
		}
		return mat, labels, rows
	}

	return nil, nil, nil
}

func applyTitle(layout *Layout, values map[string]interface{}) {
	if t, ok := values["title"].(string); ok {
		layout.Title.Text = t
	}
}

func applyAxisTitles(layout *Layout, values map[string]interface{}) {
	if t, ok := values["xaxis_title"].(string); ok {
		layout.XAxis = &Axis{Title: t}
	}
	if t, ok := values["yaxis_title"].(string); ok {
		layout.YAxis = &Axis{Title: t}
	}
}

// coerceNum converts a cell to a finite float. Non-finite numbers and
// non-numeric strings become null.
func coerceNum(v interface{}) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		f := 0.0
		if t {
			f = 1.0
		}
		return &f
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return &t
	case int:
		f := float64(t)
		return &f
	case json.Number:
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return &f
	default:
		return nil
	}
}

func allNull(row []*float64) bool {
	for _, v := range row {
		if v != nil {
			return false
		}
	}
	return true
}

func labelsOrIndex(labels []interface{}, n int) []interface{} {
	if len(labels) > 0 {
		return labels
	}
	return indexLabels(n)
}

func indexLabels(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func asSlice(v interface{}) ([]interface{}, bool) {
	s, ok := v.([]interface{})
	return s, ok
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func stringOr(v interface{}, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// sortedKeys is the deterministic fallback when document key order could
// not be recovered from the raw bytes.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// zKeyOrder walks the raw values bytes and returns the document key order
// of a top-level "z" member for the shapes that depend on it: an object z
// yields its row keys plus the first object-valued row's column keys; an
// array z whose first element is an object yields that object's keys as
// column keys.
func zKeyOrder(raw []byte) (rowKeys, colKeys []string) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, nil
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil
		}
		if key, _ := keyTok.(string); key != "z" {
			if skipValue(dec) != nil {
				return nil, nil
			}
			continue
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, nil
		}
		switch tok {
		case json.Delim('{'):
			for dec.More() {
				rkTok, err := dec.Token()
				if err != nil {
					return rowKeys, colKeys
				}
				if rk, ok := rkTok.(string); ok {
					rowKeys = append(rowKeys, rk)
				}
				if colKeys == nil {
					keys, err := objectKeys(dec)
					if err != nil {
						return rowKeys, colKeys
					}
					colKeys = keys
				} else if skipValue(dec) != nil {
					return rowKeys, colKeys
				}
			}
		case json.Delim('['):
			if dec.More() {
				if keys, err := objectKeys(dec); err == nil {
					colKeys = keys
				}
			}
		}
		return rowKeys, colKeys
	}
	return nil, nil
}

// objectKeys consumes the decoder's next value. For an object it returns
// the member keys in document order; any other value is skipped and yields
// nil.
func objectKeys(dec *json.Decoder) ([]string, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch tok {
	case json.Delim('{'):
		var keys []string
		for dec.More() {
			kTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			if k, ok := kTok.(string); ok {
				keys = append(keys, k)
			}
			if err := skipValue(dec); err != nil {
				return nil, err
			}
		}
		_, err = dec.Token()
		return keys, err
	case json.Delim('['):
		return nil, skipCompound(dec)
	}
	return nil, nil
}

// skipValue consumes one full JSON value of any kind.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == json.Delim('{') || tok == json.Delim('[') {
		return skipCompound(dec)
	}
	return nil
}

// skipCompound consumes tokens until the already-opened object or array
// closes.
func skipCompound(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
	return nil
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

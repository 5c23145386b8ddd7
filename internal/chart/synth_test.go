package chart

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func synth(t *testing.T, doc, graphType string) (*Spec, error) {
	t.Helper()
	return Synthesize(json.RawMessage(doc), graphType)
}

func TestSynthesize_NilValues(t *testing.T) {
	_, err := Synthesize(nil, "bar")
	assert.ErrorIs(t, err, ErrNoValues)
}

func TestSynthesize_NullValues(t *testing.T) {
	_, err := synth(t, `null`, "bar")
	assert.ErrorIs(t, err, ErrNoValues)
}

func TestSynthesize_UndecodableValues(t *testing.T) {
	_, err := synth(t, `{"labels": [`, "bar")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoValues)
}

func TestSynthesize_Pie(t *testing.T) {
	spec, err := synth(t, `{"labels": ["a", "b"], "data": [1, 2]}`, "pie")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)

	tr := spec.Traces[0]
	assert.Equal(t, "pie", tr.Type)
	assert.Equal(t, []interface{}{"a", "b"}, tr.Labels)
	assert.Equal(t, []interface{}{1.0, 2.0}, tr.Values)
	assert.Equal(t, "label+percent", tr.TextInfo)
}

func TestSynthesize_PieDatasetFallback(t *testing.T) {
	spec, err := synth(t, `{
		"labels": ["x", "y"],
		"datasets": [{"label": "s", "data": [3, 4]}]
	}`, "pie")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, []interface{}{3.0, 4.0}, spec.Traces[0].Values)
}

func TestSynthesize_SingleSeriesBar(t *testing.T) {
	spec, err := synth(t, `{
		"labels": ["q1", "q2"],
		"data": [10, 20],
		"title": "Revenue"
	}`, "bar")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, "bar", spec.Traces[0].Type)
	assert.Equal(t, []interface{}{"q1", "q2"}, spec.Traces[0].X)
	assert.Equal(t, []interface{}{10.0, 20.0}, spec.Traces[0].Y)
	assert.Equal(t, "Revenue", spec.Layout.Title.Text)
}

func TestSynthesize_SingleSeriesPositionalIndex(t *testing.T) {
	spec, err := synth(t, `{"data": [5, 6, 7]}`, "line")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, []interface{}{0, 1, 2}, spec.Traces[0].X)
}

func TestSynthesize_MultiSeriesOrderPreserved(t *testing.T) {
	spec, err := synth(t, `{
		"labels": ["jan", "feb"],
		"datasets": [
			{"label": "north", "data": [1, 2]},
			{"label": "south", "data": [3, 4]}
		]
	}`, "line")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 2)
	assert.Equal(t, "north", spec.Traces[0].Name)
	assert.Equal(t, "south", spec.Traces[1].Name)
}

func TestSynthesize_AxisTitlesCopiedOnlyWhenPresent(t *testing.T) {
	spec, err := synth(t, `{"data": [1], "xaxis_title": "Month"}`, "bar")
	require.NoError(t, err)
	require.NotNil(t, spec.Layout.XAxis)
	assert.Equal(t, "Month", spec.Layout.XAxis.Title)
	assert.Nil(t, spec.Layout.YAxis)
}

func TestSynthesize_Scatter(t *testing.T) {
	spec, err := synth(t, `{
		"datasets": [{
			"label": "pts",
			"data": [{"x": 1, "y": 2}, {"x": 3, "y": 4}]
		}]
	}`, "scatter")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	tr := spec.Traces[0]
	assert.Equal(t, "scatter", tr.Type)
	assert.Equal(t, "markers", tr.Mode)
	assert.Equal(t, []interface{}{1.0, 3.0}, tr.X)
	assert.Equal(t, []interface{}{2.0, 4.0}, tr.Y)
	assert.Nil(t, tr.Marker)
}

func TestSynthesize_BubbleSizes(t *testing.T) {
	spec, err := synth(t, `{
		"datasets": [{
			"data": [{"x": 1, "y": 2, "size": 8}, {"x": 3, "y": 4}]
		}]
	}`, "bubble")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	marker := spec.Traces[0].Marker
	require.NotNil(t, marker)
	assert.Equal(t, []float64{8, 10}, marker.Size)
	assert.Equal(t, float64(1), marker.SizeRef)
}

func TestSynthesize_HeatmapMatrixRetained(t *testing.T) {
	spec, err := synth(t, `{
		"z": [[1, 2, 3], [4, 5, 6], [7, 8, 9]],
		"x": ["a", "b", "c"],
		"y": ["r1", "r2", "r3"]
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)

	tr := spec.Traces[0]
	require.Len(t, tr.Z, 3)
	require.Len(t, tr.Z[0], 3)
	assert.Equal(t, []interface{}{"a", "b", "c"}, tr.X)
	assert.Equal(t, []interface{}{"r1", "r2", "r3"}, tr.Y)
}

func TestSynthesize_HeatmapNullRowDroppedThenColumnsRecomputed(t *testing.T) {
	// The middle row is entirely null; after it drops, the third column is
	// entirely null too and must also drop.
	spec, err := synth(t, `{
		"z": [[1, 2, null], [null, null, null], [3, 4, null]],
		"y": ["r1", "r2", "r3"]
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)

	tr := spec.Traces[0]
	require.Len(t, tr.Z, 2)
	require.Len(t, tr.Z[0], 2)
	assert.Equal(t, []interface{}{"r1", "r3"}, tr.Y)
}

func TestSynthesize_HeatmapCorrelationSnap(t *testing.T) {
	spec, err := synth(t, `{"z": [[-0.02, 0.98], [0.5, 0.1]]}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, -1.0, *spec.Traces[0].Zmin)
	assert.Equal(t, 1.0, *spec.Traces[0].Zmax)
}

func TestSynthesize_HeatmapWideRangeNotSnapped(t *testing.T) {
	spec, err := synth(t, `{"z": [[-5, 5]]}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, -5.0, *spec.Traces[0].Zmin)
	assert.Equal(t, 5.0, *spec.Traces[0].Zmax)
}

func TestSynthesize_HeatmapFlatRow(t *testing.T) {
	spec, err := synth(t, `{"z": [1, 2, 3]}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	require.Len(t, spec.Traces[0].Z, 1)
	assert.Len(t, spec.Traces[0].Z[0], 3)
}

func TestSynthesize_HeatmapMappingOfMappings(t *testing.T) {
	// Row and column order follow the document, not a sort.
	spec, err := synth(t, `{
		"z": {
			"qty":   {"qty": 1.0, "price": 0.4},
			"price": {"qty": 0.4, "price": 1.0}
		}
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)

	tr := spec.Traces[0]
	require.Len(t, tr.Z, 2)
	assert.Equal(t, []interface{}{"qty", "price"}, tr.X)
	assert.Equal(t, []interface{}{"qty", "price"}, tr.Y)
	// Diagonal of a correlation table.
	assert.Equal(t, 1.0, *tr.Z[0][0])
	assert.Equal(t, 1.0, *tr.Z[1][1])
}

func TestSynthesize_HeatmapRowObjectsKeepDocumentColumnOrder(t *testing.T) {
	spec, err := synth(t, `{
		"z": [
			{"units": 10, "amount": 1.5},
			{"units": 20, "amount": 2.5}
		],
		"y": ["r1", "r2"]
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)

	tr := spec.Traces[0]
	assert.Equal(t, []interface{}{"units", "amount"}, tr.X)
	assert.Equal(t, 10.0, *tr.Z[0][0])
	assert.Equal(t, 2.5, *tr.Z[1][1])
}

func TestSynthesize_HeatmapLabelsDatasets(t *testing.T) {
	spec, err := synth(t, `{
		"labels": ["a", "b"],
		"datasets": [
			{"label": "r1", "data": [1, 2]},
			{"data": [3, 4]}
		]
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, []interface{}{"a", "b"}, spec.Traces[0].X)
	assert.Equal(t, []interface{}{"r1", "Row 2"}, spec.Traces[0].Y)
}

func TestSynthesize_HeatmapStringAndNonFiniteCells(t *testing.T) {
	spec, err := synth(t, `{
		"z": [["1.5", "oops", null], [2, 3, 4]]
	}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	tr := spec.Traces[0]
	assert.Equal(t, 1.5, *tr.Z[0][0])
	assert.Nil(t, tr.Z[0][1])
}

func TestSynthesize_HeatmapAllNullYieldsEmptySpec(t *testing.T) {
	spec, err := synth(t, `{"z": [[null, "n/a"]]}`, "heatmap")
	require.NoError(t, err)
	assert.Empty(t, spec.Traces)
}

func TestSynthesize_HeatmapWithoutMatrixFallsBackToSeries(t *testing.T) {
	// A heatmap request over plain {labels, data} carries no matrix; it still
	// renders through the generic series path.
	spec, err := synth(t, `{"labels": ["a", "b"], "data": [1, 2]}`, "heatmap")
	require.NoError(t, err)
	require.Len(t, spec.Traces, 1)
	assert.Equal(t, "heatmap", spec.Traces[0].Type)
	assert.Equal(t, []interface{}{"a", "b"}, spec.Traces[0].X)
	assert.Equal(t, []interface{}{1.0, 2.0}, spec.Traces[0].Y)
}

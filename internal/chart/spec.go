// Package chart deterministically converts computed values into a
// renderer-agnostic chart specification. No model call is involved; the input
// is the values object produced by the execution sandbox, which may arrive in
// several shapes depending on what the generated transformation emitted.
package chart

// Spec is the full chart description: trace data plus presentation layout.
type Spec struct {
	Traces []Trace `json:"traces"`
	Layout Layout  `json:"layout"`
}

// Trace is one data series. Fields are populated per chart type; unused
// fields stay empty and are omitted from serialization.
type Trace struct {
	Type       string        `json:"type"`
	Name       string        `json:"name,omitempty"`
	Mode       string        `json:"mode,omitempty"`
	X          []interface{} `json:"x,omitempty"`
	Y          []interface{} `json:"y,omitempty"`
	Labels     []interface{} `json:"labels,omitempty"`
	Values     []interface{} `json:"values,omitempty"`
	Z          [][]*float64  `json:"z,omitempty"`
	Zmin       *float64      `json:"zmin,omitempty"`
	Zmax       *float64      `json:"zmax,omitempty"`
	Colorscale string        `json:"colorscale,omitempty"`
	Colorbar   *Colorbar     `json:"colorbar,omitempty"`
	Marker     *Marker       `json:"marker,omitempty"`
	TextInfo   string        `json:"textinfo,omitempty"`
	HoverInfo  string        `json:"hoverinfo,omitempty"`
}

// Marker holds per-point marker settings (bubble size channel).
type Marker struct {
	Size     []float64 `json:"size,omitempty"`
	SizeMode string    `json:"sizemode,omitempty"`
	SizeRef  float64   `json:"sizeref,omitempty"`
}

// Colorbar titles the heatmap color scale.
type Colorbar struct {
	Title string `json:"title"`
}

// Layout carries presentation settings shared by all traces.
type Layout struct {
	Title      Title   `json:"title"`
	Autosize   bool    `json:"autosize"`
	Margin     Margin  `json:"margin"`
	ShowLegend bool    `json:"showlegend"`
	Legend     Legend  `json:"legend"`
	XAxis      *Axis   `json:"xaxis,omitempty"`
	YAxis      *Axis   `json:"yaxis,omitempty"`
}

// Title is the chart title block.
type Title struct {
	Text string `json:"text"`
}

// Margin is the plot margin in pixels.
type Margin struct {
	L   int `json:"l"`
	R   int `json:"r"`
	T   int `json:"t"`
	B   int `json:"b"`
	Pad int `json:"pad"`
}

// Legend positions the trace legend.
type Legend struct {
	Orientation string  `json:"orientation"`
	YAnchor     string  `json:"yanchor"`
	Y           float64 `json:"y"`
	XAnchor     string  `json:"xanchor"`
	X           float64 `json:"x"`
}

// Axis describes one axis.
type Axis struct {
	Title      string `json:"title"`
	AutoMargin bool   `json:"automargin,omitempty"`
	TickAngle  int    `json:"tickangle,omitempty"`
}

// defaultLayout is the presentation baseline every synthesized chart starts
// from; values copied through from the computed values override it.
func defaultLayout() Layout {
	return Layout{
		Title:      Title{Text: ""},
		Autosize:   true,
		Margin:     Margin{L: 60, R: 40, T: 60, B: 60, Pad: 4},
		ShowLegend: true,
		Legend: Legend{
			Orientation: "h",
			YAnchor:     "bottom",
			Y:           -0.2,
			XAnchor:     "center",
			X:           0.5,
		},
	}
}

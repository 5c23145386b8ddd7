package analyzer

import "vizinsight/internal/chart"

// Envelope is the uniform response returned for every request, success or
// failure. Every field is always present in the serialized form; absent
// values are null. Callers distinguish failure solely via Error.
type Envelope struct {
	Intent             *string     `json:"intent"`
	DatasetName        *string     `json:"dataset_name"`
	GraphType          *string     `json:"graph_type"`
	Insights           *string     `json:"insights"`
	ChartSpec          *chart.Spec `json:"chart_spec"`
	Summary            interface{} `json:"summary"`
	Values             interface{} `json:"values"`
	Code               *string     `json:"code"`
	NumRecommendations *int        `json:"num_recommendations"`
	ProfileReportID    *string     `json:"profile_report_id"`
	ProfileURL         *string     `json:"profile_url"`
	ArmID              *string     `json:"arm_id"`
	Error              *string     `json:"error"`
}

func str(s string) *string {
	return &s
}

// strOrNil keeps empty strings out of the envelope as nulls.
func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vizinsight/internal/bandit"
	"vizinsight/internal/dataset"
	"vizinsight/internal/llm"
	"vizinsight/internal/profile"
	"vizinsight/internal/prompt"
	"vizinsight/internal/sandbox"
)

func salesFrame() *dataset.Frame {
	return dataset.New("sales.csv",
		[]string{"region", "revenue"},
		[][]string{
			{"north", "100"},
			{"south", "250"},
		})
}

// fixedCall returns the same response for every invocation.
func fixedCall(response string) llm.CallFunc {
	return func(ctx context.Context, req llm.Request) (string, error) {
		return response, nil
	}
}

// fakeInterpreter writes an executable that ignores its script argument and
// prints the given line, standing in for a python run.
func fakeInterpreter(t *testing.T, line string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-python")
	body := "#!/bin/sh\necho '" + line + "'\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newAnalyzer(t *testing.T, opts Options) *Analyzer {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Describer == (prompt.Describer{}) {
		opts.Describer = prompt.Describer{MaxSchemaColumns: 40, MaxSampleRows: 3}
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a
}

func envelopeKeys(t *testing.T, e Envelope) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

var allEnvelopeFields = []string{
	"intent", "dataset_name", "graph_type", "insights", "chart_spec",
	"summary", "values", "code", "num_recommendations",
	"profile_report_id", "profile_url", "arm_id", "error",
}

func assertFullEnvelope(t *testing.T, e Envelope) {
	t.Helper()
	m := envelopeKeys(t, e)
	for _, field := range allEnvelopeFields {
		_, ok := m[field]
		assert.True(t, ok, "envelope missing field %q", field)
	}
	assert.Len(t, m, len(allEnvelopeFields))
}

func TestAnalyze_Insight(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call: fixedCall(`{"intent": "insight", "dataset_name": "sales.csv", "insights": "revenue is concentrated in the south"}`),
	})

	e := a.Analyze(context.Background(), Request{
		Instruction: "what stands out?",
		Datasets:    []*dataset.Frame{salesFrame()},
	})

	require.Nil(t, e.Error)
	assert.Equal(t, "insight", *e.Intent)
	assert.Equal(t, "sales.csv", *e.DatasetName)
	assert.Equal(t, "revenue is concentrated in the south", *e.Insights)
	assert.Equal(t, "unified_base", *e.ArmID)
	assert.Nil(t, e.GraphType)
	assert.Nil(t, e.ChartSpec)
	assertFullEnvelope(t, e)
}

func TestAnalyze_Recommend(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call: fixedCall(`{"intent": "recommend", "dataset_name": "sales.csv", "insights": "- bar chart of revenue by region", "num_recommendations": 1}`),
	})

	e := a.Analyze(context.Background(), Request{
		Instruction: "what charts fit?",
		Datasets:    []*dataset.Frame{salesFrame()},
	})

	require.Nil(t, e.Error)
	assert.Equal(t, "recommend", *e.Intent)
	require.NotNil(t, e.NumRecommendations)
	assert.Equal(t, 1, *e.NumRecommendations)
	assert.Contains(t, *e.Insights, "Chart Recommendations")
	assert.Contains(t, *e.Insights, "Selected dataset: **sales.csv**")
	assert.Contains(t, *e.Insights, "Total recommendations: **1**")
	assert.Contains(t, *e.Insights, "- bar chart of revenue by region")

	summary, ok := e.Summary.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "sales.csv", summary["selected_dataset"])
	assertFullEnvelope(t, e)
}

func TestAnalyze_Profile(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call:     fixedCall(`{"intent": "profile", "dataset_name": "sales.csv"}`),
		Reporter: profile.NewReporter(t.TempDir(), nil),
	})

	e := a.Analyze(context.Background(), Request{
		Instruction: "profile the sales data",
		Datasets:    []*dataset.Frame{salesFrame()},
	})

	require.Nil(t, e.Error)
	assert.Equal(t, "profile", *e.Intent)
	require.NotNil(t, e.ProfileReportID)
	_, err := uuid.Parse(*e.ProfileReportID)
	assert.NoError(t, err)
	require.NotNil(t, e.ProfileURL)
	assert.Equal(t, *e.ProfileReportID+".html", filepath.Base(*e.ProfileURL))
	assert.FileExists(t, *e.ProfileURL)
	assertFullEnvelope(t, e)
}

func TestAnalyze_Graph(t *testing.T) {
	response := `{"intent": "graph", "dataset_name": "sales.csv", "graph_type": "bar", ` +
		`"transformation": "grouped = df.groupby('region')['revenue'].sum()\nvalues = {'labels': grouped.index.tolist(), 'data': grouped.tolist()}\nsummary = {'rows': len(grouped)}"}`
	interp := fakeInterpreter(t, `{"values": {"labels": ["north", "south"], "data": [100, 250]}, "summary": {"rows": 2}}`)

	a := newAnalyzer(t, Options{
		Call:   fixedCall(response),
		Runner: sandbox.NewRunner(interp, 5*time.Second, zap.NewNop()),
	})

	e := a.Analyze(context.Background(), Request{
		Instruction: "bar chart of revenue by region",
		Datasets:    []*dataset.Frame{salesFrame()},
	})

	require.Nil(t, e.Error)
	assert.Equal(t, "graph", *e.Intent)
	assert.Equal(t, "bar", *e.GraphType)
	require.NotNil(t, e.ChartSpec)
	require.Len(t, e.ChartSpec.Traces, 1)
	assert.Equal(t, "bar", e.ChartSpec.Traces[0].Type)
	require.NotNil(t, e.Code)
	assert.Contains(t, *e.Code, "import pandas as pd")
	assert.NotNil(t, e.Values)
	assertFullEnvelope(t, e)
}

func TestAnalyze_GraphScriptHarnessedOnce(t *testing.T) {
	// The interpreter inspects the script it receives: the harness preamble
	// must appear exactly once and the model's transformation body must be
	// present. A pipeline that wrapped the code twice fails here.
	response := `{"intent": "graph", "dataset_name": "sales.csv", "graph_type": "bar", ` +
		`"transformation": "grouped = df.groupby('region')['revenue'].sum()\nvalues = {'labels': grouped.index.tolist(), 'data': grouped.tolist()}\nsummary = {}"}`

	interp := filepath.Join(t.TempDir(), "checking-python")
	body := `#!/bin/sh
if [ "$(grep -c 'import pandas as pd' "$1")" -ne 1 ]; then
  echo "harness preamble count != 1" >&2
  exit 1
fi
if ! grep -q "df.groupby('region')" "$1"; then
  echo "transformation body missing" >&2
  exit 1
fi
echo '{"values": {"labels": ["north", "south"], "data": [100, 250]}, "summary": {"rows": 2}}'
`
	require.NoError(t, os.WriteFile(interp, []byte(body), 0o755))

	a := newAnalyzer(t, Options{
		Call:   fixedCall(response),
		Runner: sandbox.NewRunner(interp, 5*time.Second, zap.NewNop()),
	})

	e := a.Analyze(context.Background(), Request{
		Instruction: "bar chart of revenue by region",
		Datasets:    []*dataset.Frame{salesFrame()},
	})

	require.Nil(t, e.Error)
	require.NotNil(t, e.ChartSpec)
	require.Len(t, e.ChartSpec.Traces, 1)
	require.NotNil(t, e.Code)
	assert.Equal(t, 1, strings.Count(*e.Code, "import pandas as pd"))
}

func TestAnalyze_GraphExecutionFailure(t *testing.T) {
	response := `{"intent": "graph", "dataset_name": "sales.csv", "graph_type": "bar", "transformation": "values = {}\nsummary = {}"}`
	interp := filepath.Join(t.TempDir(), "fail")
	require.NoError(t, os.WriteFile(interp, []byte("#!/bin/sh\necho nope >&2\nexit 1\n"), 0o755))

	a := newAnalyzer(t, Options{
		Call:   fixedCall(response),
		Runner: sandbox.NewRunner(interp, 5*time.Second, zap.NewNop()),
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "Code execution failed")
	assert.Equal(t, "graph", *e.Intent)
	assert.Equal(t, "bar", *e.GraphType)
	assert.NotNil(t, e.Code)
	assert.Nil(t, e.ChartSpec)
	assertFullEnvelope(t, e)
}

func TestAnalyze_GraphSynthesisFailure(t *testing.T) {
	// Harness-caught body exceptions come back as values=null with an
	// error summary; synthesis then fails and the envelope keeps both.
	response := `{"intent": "graph", "dataset_name": "sales.csv", "graph_type": "bar", "transformation": "values = {}\nsummary = {}"}`
	interp := fakeInterpreter(t, `{"values": null, "summary": {"error": "division by zero"}}`)

	a := newAnalyzer(t, Options{
		Call:   fixedCall(response),
		Runner: sandbox.NewRunner(interp, 5*time.Second, zap.NewNop()),
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "Chart synthesis failed")
	assert.NotNil(t, e.Summary)
	assert.Nil(t, e.ChartSpec)
	assertFullEnvelope(t, e)
}

func TestAnalyze_GraphMissingFields(t *testing.T) {
	t.Run("graph_type", func(t *testing.T) {
		a := newAnalyzer(t, Options{
			Call: fixedCall(`{"intent": "graph", "dataset_name": "sales.csv", "transformation": "values = {}"}`),
		})
		e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})
		require.NotNil(t, e.Error)
		assert.Contains(t, *e.Error, "graph_type")
		assert.Nil(t, e.GraphType)
		assert.NotNil(t, e.Code)
	})

	t.Run("transformation", func(t *testing.T) {
		a := newAnalyzer(t, Options{
			Call: fixedCall(`{"intent": "graph", "dataset_name": "sales.csv", "graph_type": "bar"}`),
		})
		e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})
		require.NotNil(t, e.Error)
		assert.Contains(t, *e.Error, "transformation")
		assert.Equal(t, "bar", *e.GraphType)
		assert.Nil(t, e.Code)
	})
}

func TestAnalyze_InvalidIntent(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call: fixedCall(`{"intent": "summarize", "dataset_name": "sales.csv"}`),
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "Invalid intent")
	assert.Nil(t, e.Intent)
	assert.NotNil(t, e.ArmID)
	assertFullEnvelope(t, e)
}

func TestAnalyze_DatasetFallback(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call: fixedCall(`{"intent": "insight", "dataset_name": "sale.csv", "insights": "x"}`),
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.Nil(t, e.Error)
	assert.Equal(t, "sales.csv", *e.DatasetName)
}

func TestAnalyze_DatasetResolutionFails(t *testing.T) {
	other := dataset.New("other.csv", []string{"x"}, [][]string{{"1"}})
	a := newAnalyzer(t, Options{
		Call: fixedCall(`{"intent": "insight", "dataset_name": "missing.csv", "insights": "x"}`),
	})

	e := a.Analyze(context.Background(), Request{
		Datasets: []*dataset.Frame{salesFrame(), other},
	})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "dataset_name")
	assert.Equal(t, "insight", *e.Intent)
	assert.Equal(t, "missing.csv", *e.DatasetName)
	assert.Nil(t, e.Insights)
	assertFullEnvelope(t, e)
}

func TestAnalyze_ParseRepair(t *testing.T) {
	calls := 0
	var repairReq llm.Request
	call := func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		if calls == 1 {
			return "here you go: not json at all", nil
		}
		repairReq = req
		return `{"intent": "insight", "dataset_name": "sales.csv", "insights": "fixed"}`, nil
	}

	a := newAnalyzer(t, Options{Call: call, RepairMax: 1})
	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.Nil(t, e.Error)
	assert.Equal(t, "fixed", *e.Insights)
	assert.Equal(t, 2, calls)
	assert.Contains(t, repairReq.User, "ONLY a valid JSON object")
	assert.Zero(t, repairReq.Temperature)
}

func TestAnalyze_ParseFailureAfterRepair(t *testing.T) {
	calls := 0
	call := func(ctx context.Context, req llm.Request) (string, error) {
		calls++
		return "still not json", nil
	}

	a := newAnalyzer(t, Options{Call: call, RepairMax: 1})
	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "Invalid JSON in LLM response")
	assert.Equal(t, 2, calls)
	assert.NotNil(t, e.ArmID)
	assertFullEnvelope(t, e)
}

func TestAnalyze_LLMCallFailed(t *testing.T) {
	call := func(ctx context.Context, req llm.Request) (string, error) {
		return "", errors.New("invalid API key")
	}

	a := newAnalyzer(t, Options{Call: call})
	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})

	require.NotNil(t, e.Error)
	assert.Contains(t, *e.Error, "LLM call failed")
	assert.Nil(t, e.Intent)
	assert.NotNil(t, e.ArmID)
	assertFullEnvelope(t, e)
}

func TestAnalyze_ArmOverrideBypassesBandit(t *testing.T) {
	var seen llm.Request
	call := func(ctx context.Context, req llm.Request) (string, error) {
		seen = req
		return `{"intent": "insight", "dataset_name": "sales.csv", "insights": "x"}`, nil
	}

	a := newAnalyzer(t, Options{Call: call})
	override := &bandit.Arm{
		ID:          "unified_strict_json",
		Stage:       StageUnified,
		Model:       "gemini-2.5-pro",
		Temperature: 0.05,
	}
	e := a.Analyze(context.Background(), Request{
		Datasets: []*dataset.Frame{salesFrame()},
		Arm:      override,
	})

	require.Nil(t, e.Error)
	assert.Equal(t, "unified_strict_json", *e.ArmID)
	assert.Equal(t, "gemini-2.5-pro", seen.Model)
	assert.Contains(t, seen.System, "STRICT OUTPUT MODE")
}

func TestAnalyze_BanditArmRegistration(t *testing.T) {
	store := bandit.NewFileStore(filepath.Join(t.TempDir(), "rl_state.json"))
	b := bandit.New(store, zap.NewNop())

	a := newAnalyzer(t, Options{
		Call:   fixedCall(`{"intent": "insight", "dataset_name": "sales.csv", "insights": "x"}`),
		Bandit: b,
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})
	require.Nil(t, e.Error)
	require.NotNil(t, e.ArmID)

	_, ok := b.Stats(*e.ArmID)
	assert.True(t, ok, "chosen arm should be registered")

	a.Feedback(*e.ArmID, 1)
	stats, _ := b.Stats(*e.ArmID)
	assert.Equal(t, 1, stats.Pulls)
	assert.Equal(t, 2.0, stats.Alpha)
}

func TestAnalyze_FencedResponseAccepted(t *testing.T) {
	a := newAnalyzer(t, Options{
		Call: fixedCall("```json\n{\"intent\": \"insight\", \"dataset_name\": \"sales.csv\", \"insights\": \"fenced\"}\n```"),
	})

	e := a.Analyze(context.Background(), Request{Datasets: []*dataset.Frame{salesFrame()}})
	require.Nil(t, e.Error)
	assert.Equal(t, "fenced", *e.Insights)
}

func TestUnifiedArms(t *testing.T) {
	arms := UnifiedArms("gemini-2.5-flash")
	require.Len(t, arms, 2)
	assert.Equal(t, "unified_base", arms[0].ID)
	assert.Equal(t, 0.1, arms[0].Temperature)
	assert.Equal(t, "unified_strict_json", arms[1].ID)
	assert.Equal(t, 0.05, arms[1].Temperature)
	for _, arm := range arms {
		assert.Equal(t, StageUnified, arm.Stage)
		assert.Equal(t, "gemini-2.5-flash", arm.Model)
	}
}

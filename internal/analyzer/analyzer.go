// Package analyzer orchestrates the unified analysis pipeline: one model
// call classifies the request and produces its content, then the graph
// branch executes generated code in the sandbox and synthesizes a chart
// spec. Every branch, success or failure, returns the same envelope shape.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"vizinsight/internal/bandit"
	"vizinsight/internal/chart"
	"vizinsight/internal/dataset"
	"vizinsight/internal/extract"
	"vizinsight/internal/llm"
	"vizinsight/internal/profile"
	"vizinsight/internal/prompt"
	"vizinsight/internal/sandbox"
)

// Stage under which the unified arms are registered.
const StageUnified = "unified"

// UnifiedArms returns the prompt/parameter variants the bandit chooses
// between. Arms vary constraints and temperature, not prompt files.
func UnifiedArms(model string) []bandit.Arm {
	return []bandit.Arm{
		{
			ID:          "unified_base",
			Stage:       StageUnified,
			Model:       model,
			Temperature: 0.1,
			Notes:       "Base unified prompt",
		},
		{
			ID:          "unified_strict_json",
			Stage:       StageUnified,
			Model:       model,
			Temperature: 0.05,
			Notes:       "Stricter JSON-only response",
		},
	}
}

const rawResponseDiagnosticLimit = 1000

// Request is one analysis invocation.
type Request struct {
	Instruction string
	History     string
	Datasets    []*dataset.Frame

	// Arm bypasses the bandit when set; the caller has already chosen
	// the variant (for example a per-session bandit upstream).
	Arm *bandit.Arm
}

// Options wires the analyzer's collaborators.
type Options struct {
	Call      llm.CallFunc
	Bandit    *bandit.Bandit
	Runner    *sandbox.Runner
	Reporter  *profile.Reporter
	Describer prompt.Describer
	Arms      []bandit.Arm
	MaxTokens int
	Retries   int
	RepairMax int
	Logger    *zap.Logger
}

// Analyzer runs the pipeline.
type Analyzer struct {
	call      llm.CallFunc
	bandit    *bandit.Bandit
	runner    *sandbox.Runner
	reporter  *profile.Reporter
	describer prompt.Describer
	arms      []bandit.Arm
	maxTokens int
	retries   int
	repairMax int
	logger    *zap.Logger
}

// New builds an Analyzer and registers its arms with the bandit.
func New(opts Options) (*Analyzer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	arms := opts.Arms
	if len(arms) == 0 {
		arms = UnifiedArms("gemini-2.5-flash")
	}
	if opts.Bandit != nil {
		if err := opts.Bandit.EnsureArms(arms); err != nil {
			return nil, fmt.Errorf("failed to register arms: %w", err)
		}
	}
	return &Analyzer{
		call:      opts.Call,
		bandit:    opts.Bandit,
		runner:    opts.Runner,
		reporter:  opts.Reporter,
		describer: opts.Describer,
		arms:      arms,
		maxTokens: opts.MaxTokens,
		retries:   opts.Retries,
		repairMax: opts.RepairMax,
		logger:    logger,
	}, nil
}

// Feedback records a reward for a previously returned arm id. Unknown arms
// are ignored; this never fails the caller.
func (a *Analyzer) Feedback(armID string, reward int) {
	if a.bandit != nil {
		a.bandit.Update(armID, reward)
	}
}

// unifiedResponse mirrors the JSON object the model is instructed to emit.
// Fields are extracted leniently; intent-specific validation happens in the
// branch handlers.
type unifiedResponse struct {
	intent             string
	datasetName        string
	graphType          string
	transformation     string
	insights           string
	numRecommendations *int
	reasoning          string
}

// Analyze runs one request through the pipeline and always returns a fully
// populated envelope with the chosen arm id stamped on it.
func (a *Analyzer) Analyze(ctx context.Context, req Request) Envelope {
	arm := a.resolveArm(req)

	ret := func(e Envelope) Envelope {
		e.ArmID = str(arm.ID)
		return e
	}

	system := prompt.System(arm.ID == "unified_strict_json")
	user := a.describer.BuildUser(req.Instruction, req.History, req.Datasets)

	retrier := &llm.Retrier{Retries: a.retries, Logger: a.logger}
	response, err := retrier.Do(ctx, a.call, llm.Request{
		Model:       arm.Model,
		System:      system,
		User:        user,
		Temperature: arm.Temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		a.logger.Error("LLM call failed", zap.Error(err))
		return ret(Envelope{Error: str(fmt.Sprintf("LLM call failed: %v", err))})
	}
	a.logger.Debug("LLM raw response", zap.String("response", response))

	parsed, parseErr := a.parseWithRepair(ctx, arm, system, user, response)
	if parseErr != nil {
		return ret(Envelope{Error: str(fmt.Sprintf("Invalid JSON in LLM response: %v", parseErr))})
	}
	if parsed.reasoning != "" {
		a.logger.Info("LLM reasoning", zap.String("reasoning", truncate(parsed.reasoning, 200)))
	}

	if !validIntent(parsed.intent) {
		a.logger.Error("invalid or missing intent", zap.String("intent", parsed.intent))
		return ret(Envelope{Error: str(fmt.Sprintf("Invalid intent in LLM response: %s", parsed.intent))})
	}

	frame, ok := resolveDataset(parsed.datasetName, req.Datasets)
	if !ok {
		var graphType *string
		if parsed.intent == "graph" {
			graphType = strOrNil(parsed.graphType)
		}
		return ret(Envelope{
			Intent:      str(parsed.intent),
			DatasetName: strOrNil(parsed.datasetName),
			GraphType:   graphType,
			Error:       str("LLM response missing/invalid dataset_name"),
		})
	}
	if frame.Name != parsed.datasetName {
		a.logger.Warn("overriding dataset_name to the only loaded dataset",
			zap.String("dataset", frame.Name))
	}
	a.logger.Info("intent detected",
		zap.String("intent", parsed.intent),
		zap.String("dataset", frame.Name))

	switch parsed.intent {
	case "recommend":
		return ret(a.handleRecommend(parsed, frame))
	case "profile":
		return ret(a.handleProfile(parsed, frame))
	case "insight":
		return ret(a.handleInsight(parsed, frame))
	default:
		return ret(a.handleGraph(ctx, parsed, frame))
	}
}

func (a *Analyzer) resolveArm(req Request) bandit.Arm {
	if req.Arm != nil {
		a.logger.Info("using caller-supplied arm",
			zap.String("arm_id", req.Arm.ID),
			zap.Float64("temperature", req.Arm.Temperature),
			zap.String("model", req.Arm.Model))
		return *req.Arm
	}
	if a.bandit != nil {
		arm, samples, err := a.bandit.Choose(StageUnified, a.arms)
		if err == nil {
			a.logger.Info("using bandit arm",
				zap.String("arm_id", arm.ID),
				zap.Float64("temperature", arm.Temperature),
				zap.Any("samples", samples))
			return arm
		}
		a.logger.Warn("bandit choose failed, using first arm", zap.Error(err))
	}
	return a.arms[0]
}

// parseWithRepair extracts the JSON object from the model output. On parse
// failure it issues up to repairMax re-prompts at temperature 0 asking for
// JSON only, then surfaces the last error with a truncated diagnostic.
func (a *Analyzer) parseWithRepair(ctx context.Context, arm bandit.Arm, system, user, response string) (unifiedResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= a.repairMax; attempt++ {
		parsed, err := parseUnified(response)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
		a.logger.Error("failed to parse LLM response as JSON",
			zap.Error(err),
			zap.String("raw_response", truncate(response, rawResponseDiagnosticLimit)))

		if attempt >= a.repairMax {
			break
		}

		repairUser := user + "\n\nIMPORTANT: Your previous output was invalid JSON. " +
			"Output ONLY a valid JSON object that matches the required schema. No extra text."
		retrier := &llm.Retrier{Retries: a.retries, Logger: a.logger}
		response, err = retrier.Do(ctx, a.call, llm.Request{
			Model:       arm.Model,
			System:      system,
			User:        repairUser,
			Temperature: 0,
			MaxTokens:   a.maxTokens,
		})
		if err != nil {
			return unifiedResponse{}, err
		}
	}
	return unifiedResponse{}, lastErr
}

func parseUnified(response string) (unifiedResponse, error) {
	raw, err := extract.Object(response)
	if err != nil {
		return unifiedResponse{}, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return unifiedResponse{}, fmt.Errorf("%w: %v", extract.ErrMalformedStructure, err)
	}

	parsed := unifiedResponse{
		intent:      fieldString(fields, "intent"),
		datasetName: fieldString(fields, "dataset_name"),
		graphType:   fieldString(fields, "graph_type"),
		insights:    fieldString(fields, "insights"),
		reasoning:   fieldString(fields, "_reasoning"),
	}
	parsed.transformation = fieldString(fields, "transformation")
	if parsed.transformation == "" {
		parsed.transformation = fieldString(fields, "code")
	}
	if n, ok := fields["num_recommendations"].(float64); ok {
		v := int(n)
		parsed.numRecommendations = &v
	}
	return parsed, nil
}

func fieldString(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

func validIntent(intent string) bool {
	switch intent {
	case "graph", "insight", "recommend", "profile":
		return true
	}
	return false
}

// resolveDataset finds the named frame. A missing or misspelled name is
// overridden when exactly one dataset is loaded, a common model failure.
func resolveDataset(name string, frames []*dataset.Frame) (*dataset.Frame, bool) {
	for _, f := range frames {
		if f.Name == name {
			return f, true
		}
	}
	if len(frames) == 1 {
		return frames[0], true
	}
	return nil, false
}

func (a *Analyzer) handleRecommend(parsed unifiedResponse, frame *dataset.Frame) Envelope {
	headerBits := []string{
		"**📈 Chart Recommendations**",
		fmt.Sprintf("- Selected dataset: **%s**", frame.Name),
	}
	if parsed.numRecommendations != nil {
		headerBits = append(headerBits,
			fmt.Sprintf("- Total recommendations: **%d**", *parsed.numRecommendations))
	}
	header := strings.Join(headerBits, "\n") + "\n\n"

	summary := map[string]interface{}{
		"selected_dataset": frame.Name,
	}
	if parsed.numRecommendations != nil {
		summary["num_recommendations"] = *parsed.numRecommendations
	} else {
		summary["num_recommendations"] = nil
	}

	return Envelope{
		Intent:             str("recommend"),
		DatasetName:        str(frame.Name),
		Insights:           str(header + parsed.insights),
		NumRecommendations: parsed.numRecommendations,
		Summary:            summary,
	}
}

func (a *Analyzer) handleProfile(parsed unifiedResponse, frame *dataset.Frame) Envelope {
	if a.reporter == nil {
		return Envelope{
			Intent:      str("profile"),
			DatasetName: str(frame.Name),
			Error:       str("Profiling failed: no report generator configured"),
		}
	}
	id, path, err := a.reporter.Generate(frame)
	if err != nil {
		return Envelope{
			Intent:      str("profile"),
			DatasetName: str(frame.Name),
			Error:       str(fmt.Sprintf("Profiling failed: %v", err)),
		}
	}
	a.logger.Info("profile report written",
		zap.String("report_id", id),
		zap.String("path", path))

	return Envelope{
		Intent:          str("profile"),
		DatasetName:     str(frame.Name),
		ProfileReportID: str(id),
		ProfileURL:      str(path),
		Summary:         map[string]interface{}{"selected_dataset": frame.Name},
	}
}

func (a *Analyzer) handleInsight(parsed unifiedResponse, frame *dataset.Frame) Envelope {
	if parsed.insights == "" {
		a.logger.Warn("insight response missing 'insights' field")
	}
	return Envelope{
		Intent:      str("insight"),
		DatasetName: str(frame.Name),
		Insights:    str(parsed.insights),
	}
}

func (a *Analyzer) handleGraph(ctx context.Context, parsed unifiedResponse, frame *dataset.Frame) Envelope {
	if parsed.graphType == "" {
		a.logger.Error("graph response missing 'graph_type' field")
		return Envelope{
			Intent:      str("graph"),
			DatasetName: str(frame.Name),
			Code:        strOrNil(parsed.transformation),
			Error:       str("Graph response missing 'graph_type' field"),
		}
	}
	if parsed.transformation == "" {
		a.logger.Error("graph response missing 'transformation' field")
		return Envelope{
			Intent:      str("graph"),
			DatasetName: str(frame.Name),
			GraphType:   str(parsed.graphType),
			Error:       str("Graph response missing 'transformation' field"),
		}
	}

	fullCode := sandbox.Wrap(sandbox.Unescape(parsed.transformation))

	csvPath, err := frame.WriteCSV()
	if err != nil {
		return Envelope{
			Intent:      str("graph"),
			DatasetName: str(frame.Name),
			GraphType:   str(parsed.graphType),
			Code:        str(fullCode),
			Error:       str(fmt.Sprintf("Code execution failed: %v", err)),
		}
	}
	defer os.Remove(csvPath)

	result, err := a.runner.Run(ctx, fullCode, csvPath)
	if err != nil {
		return Envelope{
			Intent:      str("graph"),
			DatasetName: str(frame.Name),
			GraphType:   str(parsed.graphType),
			Code:        str(fullCode),
			Error:       str(fmt.Sprintf("Code execution failed: %v", err)),
		}
	}

	spec, err := chart.Synthesize(result.RawValues, parsed.graphType)
	if err != nil {
		return Envelope{
			Intent:      str("graph"),
			DatasetName: str(frame.Name),
			GraphType:   str(parsed.graphType),
			Summary:     result.Summary,
			Values:      result.Values,
			Code:        str(fullCode),
			Error:       str(fmt.Sprintf("Chart synthesis failed: %v", err)),
		}
	}

	return Envelope{
		Intent:      str("graph"),
		DatasetName: str(frame.Name),
		GraphType:   str(parsed.graphType),
		ChartSpec:   spec,
		Summary:     result.Summary,
		Values:      result.Values,
		Code:        str(fullCode),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

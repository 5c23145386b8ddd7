// Package sandbox runs model-generated transformation code in an isolated
// child process under a hard wall-clock bound. Isolation here means a
// separate interpreter process and a timeout, nothing more: the child shares
// the host filesystem and network, which is an accepted gap for trusted
// deployments and a documented hardening item otherwise.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTimeout means the child exceeded the wall-clock bound and was killed.
	ErrTimeout = errors.New("code execution timed out")

	// ErrExecFailed means the child exited non-zero or could not be spawned.
	ErrExecFailed = errors.New("code execution failed")

	// ErrMalformedOutput means the child's stdout did not honor the
	// one-line {values, summary} protocol.
	ErrMalformedOutput = errors.New("malformed execution output")

	// ErrEmptyCode means there was no transformation body to run.
	ErrEmptyCode = errors.New("transformation code is empty")
)

// Result is the child's computed output. RawValues keeps the undecoded
// values bytes so downstream consumers can recover object key order, which
// Go map decoding discards.
type Result struct {
	Values    map[string]interface{}
	RawValues json.RawMessage
	Summary   interface{}
}

const (
	// DefaultTimeout bounds one child execution.
	DefaultTimeout = 15 * time.Second

	// maxCapturedOutput caps stdout/stderr capture per stream.
	maxCapturedOutput = 1 << 20

	// errTailBytes is how much stderr travels with an execution failure.
	errTailBytes = 500
)

// Runner spawns the interpreter child for each execution.
type Runner struct {
	interpreter string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRunner builds a runner. Empty interpreter defaults to python3; a
// non-positive timeout defaults to DefaultTimeout.
func NewRunner(interpreter string, timeout time.Duration, logger *zap.Logger) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{interpreter: interpreter, timeout: timeout, logger: logger}
}

// Run executes a complete script verbatim against the dataset snapshot at
// csvPath. The caller applies the harness via Wrap exactly once before
// invoking Run. The script temp file is removed on every path; the caller
// owns the CSV snapshot.
func (r *Runner) Run(ctx context.Context, script, csvPath string) (Result, error) {
	if strings.TrimSpace(script) == "" {
		return Result{}, ErrEmptyCode
	}

	scriptFile, err := os.CreateTemp("", "vizinsight-*.py")
	if err != nil {
		return Result{}, fmt.Errorf("create script file: %w", err)
	}
	scriptPath := scriptFile.Name()
	defer os.Remove(scriptPath)

	if _, err := scriptFile.WriteString(script); err != nil {
		scriptFile.Close()
		return Result{}, fmt.Errorf("write script file: %w", err)
	}
	if err := scriptFile.Close(); err != nil {
		return Result{}, fmt.Errorf("close script file: %w", err)
	}

	return r.execute(ctx, scriptPath, csvPath)
}

// execute spawns the child with the dataset path as its sole argument and
// enforces the wall-clock bound.
func (r *Runner) execute(ctx context.Context, scriptPath, csvPath string) (Result, error) {
	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.interpreter, scriptPath, csvPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, max: maxCapturedOutput}
	cmd.Stderr = &limitedWriter{w: &stderr, max: maxCapturedOutput}

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	if execCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("execution killed on timeout",
			zap.Duration("timeout", r.timeout))
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			tail := truncate(strings.TrimSpace(stderr.String()), errTailBytes)
			r.logger.Error("execution exited non-zero",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.String("stderr", tail))
			return Result{}, fmt.Errorf("%w: %s", ErrExecFailed, tail)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrExecFailed, err)
	}

	out := strings.TrimSpace(stdout.String())
	result, err := parseOutput(out)
	if err != nil {
		r.logger.Error("execution output rejected",
			zap.Error(err), zap.String("stdout", truncate(out, errTailBytes)))
		return Result{}, err
	}

	r.logger.Info("execution completed",
		zap.Duration("elapsed", elapsed), zap.Int("stdout_bytes", len(out)))
	return result, nil
}

// parseOutput decodes the single JSON line the harness prints. Both keys
// must be present even when null.
func parseOutput(out string) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(out), &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	valuesRaw, hasValues := fields["values"]
	summaryRaw, hasSummary := fields["summary"]
	if !hasValues || !hasSummary {
		return Result{}, fmt.Errorf("%w: missing values or summary key", ErrMalformedOutput)
	}

	var result Result
	var values interface{}
	if err := json.Unmarshal(valuesRaw, &values); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if m, ok := values.(map[string]interface{}); ok {
		result.Values = m
	}
	result.RawValues = valuesRaw
	if err := json.Unmarshal(summaryRaw, &result.Summary); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// limitedWriter caps a capture buffer; excess bytes are counted and dropped
// so a runaway child cannot exhaust parent memory.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.discarded += int64(n)
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

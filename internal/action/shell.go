package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/KareemHossam19/Stepwright/internal/state"
	"github.com/KareemHossam19/Stepwright/internal/workflow"
)

// maxCapturedOutput caps how much stdout/stderr is recorded into state per
// stream. capture_mode: file avoids the cap entirely.
const maxCapturedOutput = 256 * 1024

// ShellAction runs an inline command via `sh -c`. The command string reaches
// Execute already expression-resolved and, where templating applied, shell
// quoted. Outputs are stdout, stderr, and exit_code; a non-zero exit is a
// failure outcome, not an exception.
type ShellAction struct{}

func (a *ShellAction) Reads() []string  { return []string{state.KeyEnv, state.KeyLoop} }
func (a *ShellAction) Writes() []string { return nil }

func (a *ShellAction) Execute(ctx context.Context, step *workflow.Step, _ *state.State, ec *ExecContext) (*Result, error) {
	if step.Run == "" {
		return Failure("shell step has no run command", ErrTypeSubprocess), nil
	}

	var (
		stdout, stderr string
		exitCode       int
		err            error
	)
	if ec != nil && ec.RunCommand != nil {
		var res CommandResult
		res, err = ec.RunCommand(ctx, CommandSpec{
			Command: step.Run,
			Dir:     workDir(ec),
			Env:     envOf(ec),
		})
		stdout, stderr, exitCode = res.Stdout, res.Stderr, res.ExitCode
	} else {
		stdout, stderr, exitCode, err = runShell(ctx, step.Run, ec)
	}

	if err != nil {
		if ctx.Err() != nil {
			return Failure("command timed out: "+err.Error(), ErrTypeTimeout), nil
		}
		return Failure("command failed to start: "+err.Error(), ErrTypeSubprocess), nil
	}

	if ec != nil && ec.EmitText != nil && stdout != "" {
		ec.EmitText(stdout)
	}

	outputs := map[string]any{"exit_code": exitCode}
	if step.CaptureMode == "file" {
		stdoutFile, werr := writeCapture(ec, step.ID, "stdout", stdout)
		if werr != nil {
			return nil, fmt.Errorf("writing capture file: %w", werr)
		}
		stderrFile, werr := writeCapture(ec, step.ID, "stderr", stderr)
		if werr != nil {
			return nil, fmt.Errorf("writing capture file: %w", werr)
		}
		outputs["stdout_file"] = stdoutFile
		outputs["stderr_file"] = stderrFile
		outputs["stdout"] = ""
		outputs["stderr"] = ""
	} else {
		outputs["stdout"] = truncate(stdout, maxCapturedOutput)
		outputs["stderr"] = truncate(stderr, maxCapturedOutput)
	}

	if exitCode != 0 {
		return &Result{
			Outputs:   outputs,
			Outcome:   state.OutcomeFailure,
			Error:     fmt.Sprintf("command exited with code %d", exitCode),
			ErrorType: ErrTypeSubprocess,
		}, nil
	}
	return &Result{Outputs: outputs, Outcome: state.OutcomeSuccess}, nil
}

// runShell executes command with sh -c in its own process group, so that a
// timeout or cancellation kills descendants too.
func runShell(ctx context.Context, command string, ec *ExecContext) (stdout, stderr string, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir(ec)
	cmd.Env = mergedEnviron(ec)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	setProcGroup(cmd)

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, runErr
}

func workDir(ec *ExecContext) string {
	if ec == nil {
		return ""
	}
	return ec.WorkDir
}

func envOf(ec *ExecContext) map[string]string {
	if ec == nil {
		return nil
	}
	return ec.Env
}

// mergedEnviron layers the workflow env on top of the process environment.
func mergedEnviron(ec *ExecContext) []string {
	environ := os.Environ()
	if ec == nil || len(ec.Env) == 0 {
		return environ
	}
	for k, v := range ec.Env {
		environ = append(environ, k+"="+v)
	}
	return environ
}

// writeCapture stores a captured stream under the run's result directory and
// returns the file path.
func writeCapture(ec *ExecContext, stepID, stream, content string) (string, error) {
	dir := os.TempDir()
	if ec != nil && ec.ResultDir != "" {
		dir = ec.ResultDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%08x.txt", safeName(stepID), stream, xxhash.Sum64String(stepID+stream+content))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func safeName(s string) string {
	if s == "" {
		return "step"
	}
	b := []byte(s)
	for i, c := range b {
		ok := c == '-' || c == '_' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !ok {
			b[i] = '_'
		}
	}
	return string(b)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... [truncated]"
}

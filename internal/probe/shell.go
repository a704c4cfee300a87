package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"controlroom/internal/models"
)

// CommandRunner runs a shell command and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, command string) ([]byte, error)
}

// ShellRunner runs commands through /bin/sh.
type ShellRunner struct {
	Shell string
}

// Run implements CommandRunner. A non-zero exit is an error carrying stderr.
func (s ShellRunner) Run(ctx context.Context, command string) ([]byte, error) {
	shell := s.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	// Children that keep the pipes open must not hold the probe past its deadline.
	cmd.WaitDelay = 100 * time.Millisecond

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		stderr := strings.TrimSpace(errBuf.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr != "" {
			return nil, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), stderr)
		}
		return nil, fmt.Errorf("run command: %w", err)
	}
	return outBuf.Bytes(), nil
}

// ShellChecker reads a single number from a command's output.
type ShellChecker struct {
	runner CommandRunner
}

// NewShellChecker builds a checker around runner.
func NewShellChecker(runner CommandRunner) *ShellChecker {
	return &ShellChecker{runner: runner}
}

// Check implements Checker.
func (c *ShellChecker) Check(ctx context.Context, p models.Probe) Observation {
	out, err := c.runner.Run(ctx, p.Target)
	if err != nil {
		return failed(err)
	}
	value, err := ParseMetric(string(out))
	if err != nil {
		return parseFailed(err)
	}
	return ok(value)
}

// ParseMetric reads the first token of output as a finite number. A trailing
// percent sign is accepted, as df and friends print one.
func ParseMetric(output string) (float64, error) {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0, errors.New("empty output")
	}
	token := strings.TrimSuffix(fields[0], "%")
	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", fields[0])
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("not a finite number: %q", fields[0])
	}
	return value, nil
}

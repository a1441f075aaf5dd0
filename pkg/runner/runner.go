package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/versus-control/deployctl/internal/logging"
)

// CommandRunner abstracts external CLI invocation so pipelines can be tested
// against recorded invocations instead of real binaries.
type CommandRunner interface {
	// Run executes a command in dir and returns its stdout.
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
	// RunWithStdin executes a command feeding stdin, returning stdout.
	RunWithStdin(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec
type ExecRunner struct {
	logger *logging.Logger
}

// NewExecRunner creates a runner backed by os/exec
func NewExecRunner(logger *logging.Logger) *ExecRunner {
	return &ExecRunner{logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return r.RunWithStdin(ctx, dir, nil, name, args...)
}

func (r *ExecRunner) RunWithStdin(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	r.logger.LogCommand(name, args, dir)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s %s: %w: %s",
			name, strings.Join(args, " "), err, tail(stderr.String(), 2048))
	}

	return stdout.Bytes(), nil
}

// tail returns at most n trailing bytes of s, trimmed of whitespace.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

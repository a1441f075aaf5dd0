package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Invocation records a single command execution for assertions in tests.
type Invocation struct {
	Dir   string
	Name  string
	Args  []string
	Stdin string
}

// Command returns the invocation rendered as a single command line.
func (i Invocation) Command() string {
	if len(i.Args) == 0 {
		return i.Name
	}
	return i.Name + " " + strings.Join(i.Args, " ")
}

// RecordingRunner is a CommandRunner test double. Responses are keyed by a
// substring of the rendered command line; unmatched commands succeed with
// empty output.
type RecordingRunner struct {
	mu          sync.Mutex
	invocations []Invocation
	outputs     map[string][]byte
	errors      map[string]error
}

// NewRecordingRunner creates an empty recording runner.
func NewRecordingRunner() *RecordingRunner {
	return &RecordingRunner{
		outputs: make(map[string][]byte),
		errors:  make(map[string]error),
	}
}

// Respond registers stdout for any command line containing match.
func (r *RecordingRunner) Respond(match string, stdout []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[match] = stdout
}

// Fail registers an error for any command line containing match.
func (r *RecordingRunner) Fail(match string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[match] = err
}

// Invocations returns a copy of the recorded invocations in order.
func (r *RecordingRunner) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invocation, len(r.invocations))
	copy(out, r.invocations)
	return out
}

// CommandLines returns the rendered command lines in invocation order.
func (r *RecordingRunner) CommandLines() []string {
	invs := r.Invocations()
	lines := make([]string, len(invs))
	for i, inv := range invs {
		lines[i] = inv.Command()
	}
	return lines
}

func (r *RecordingRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return r.RunWithStdin(ctx, dir, nil, name, args...)
}

func (r *RecordingRunner) RunWithStdin(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inv := Invocation{Dir: dir, Name: name, Args: args}
	if stdin != nil {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		inv.Stdin = string(data)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations = append(r.invocations, inv)

	line := inv.Command()
	for match, err := range r.errors {
		if strings.Contains(line, match) {
			return nil, err
		}
	}
	for match, out := range r.outputs {
		if strings.Contains(line, match) {
			return out, nil
		}
	}
	return nil, nil
}

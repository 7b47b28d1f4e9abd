package command

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner abstracts external process execution so backup, restore, and
// service control can be tested against a fake.
type Runner interface {
	// Run executes a command and waits for it to finish.
	Run(ctx context.Context, name string, args ...string) error

	// Output executes a command and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)

	// StreamTo executes a command with stdout connected to w. The write
	// side sees exactly what the process produced; a non-zero exit is
	// returned as an error after the stream ends.
	StreamTo(ctx context.Context, w io.Writer, name string, args ...string) error

	// StreamFrom executes a command with stdin connected to r.
	StreamFrom(ctx context.Context, r io.Reader, name string, args ...string) error
}

// ExecRunner runs commands via os/exec. Extra environment entries (for
// example PGPASSWORD) are appended to the inherited environment.
type ExecRunner struct {
	Env []string
}

// NewExecRunner creates a runner with the given extra environment entries.
func NewExecRunner(env ...string) *ExecRunner {
	return &ExecRunner{Env: env}
}

func (r *ExecRunner) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	return cmd
}

// Run executes a command and waits for completion.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := r.command(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, err, stderr.String())
	}
	return nil
}

// Output executes a command and returns its trimmed stdout.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := r.command(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError(name, err, stderr.String())
	}
	return strings.TrimSpace(stdout.String()), nil
}

// StreamTo executes a command with stdout connected to w.
func (r *ExecRunner) StreamTo(ctx context.Context, w io.Writer, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := r.command(ctx, name, args...)
	cmd.Stdout = w
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, err, stderr.String())
	}
	return nil
}

// StreamFrom executes a command with stdin connected to r.
func (r *ExecRunner) StreamFrom(ctx context.Context, in io.Reader, name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := r.command(ctx, name, args...)
	cmd.Stdin = in
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return commandError(name, err, stderr.String())
	}
	return nil
}

// commandError wraps a process failure with the tail of its stderr, which
// is usually the only useful diagnostic from pg_dump and friends.
func commandError(name string, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	const maxStderr = 512
	if len(stderr) > maxStderr {
		stderr = "..." + stderr[len(stderr)-maxStderr:]
	}
	return fmt.Errorf("%s: %w: %s", name, err, stderr)
}

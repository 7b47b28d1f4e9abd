package command

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerOutput(t *testing.T) {
	runner := NewExecRunner()

	out, err := runner.Output(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestExecRunnerStreamTo(t *testing.T) {
	runner := NewExecRunner()

	var buf bytes.Buffer
	err := runner.StreamTo(context.Background(), &buf, "echo", "streamed")
	require.NoError(t, err)
	assert.Equal(t, "streamed\n", buf.String())
}

func TestExecRunnerStreamFrom(t *testing.T) {
	runner := NewExecRunner()

	err := runner.StreamFrom(context.Background(), strings.NewReader("input\n"), "cat")
	require.NoError(t, err)
}

func TestExecRunnerEnvPassedThrough(t *testing.T) {
	runner := NewExecRunner("PGSENTRY_TEST_VAR=marker")

	out, err := runner.Output(context.Background(), "sh", "-c", "echo $PGSENTRY_TEST_VAR")
	require.NoError(t, err)
	assert.Equal(t, "marker", out)
}

func TestExecRunnerFailureIncludesStderr(t *testing.T) {
	runner := NewExecRunner()

	err := runner.Run(context.Background(), "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "sh")
}

func TestCommandError(t *testing.T) {
	base := errors.New("exit status 1")

	err := commandError("pg_dump", base, "")
	assert.Equal(t, "pg_dump: exit status 1", err.Error())
	assert.ErrorIs(t, err, base)

	err = commandError("pg_dump", base, "  connection refused  ")
	assert.Contains(t, err.Error(), "connection refused")

	long := strings.Repeat("x", 600) + "TAIL"
	err = commandError("pg_dump", base, long)
	assert.Contains(t, err.Error(), "TAIL")
	assert.Contains(t, err.Error(), "...")
	assert.NotContains(t, err.Error(), strings.Repeat("x", 600))
}

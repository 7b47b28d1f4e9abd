package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records systemctl invocations and fails configured units.
type fakeRunner struct {
	calls     []string
	failUnits map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	for unit := range f.failUnits {
		if strings.Contains(call, unit) {
			return errors.New("unit failed")
		}
	}
	return nil
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return "", f.Run(ctx, name, args...)
}

func (f *fakeRunner) StreamTo(ctx context.Context, w io.Writer, name string, args ...string) error {
	return f.Run(ctx, name, args...)
}

func (f *fakeRunner) StreamFrom(ctx context.Context, r io.Reader, name string, args ...string) error {
	return f.Run(ctx, name, args...)
}

func TestControllerCommands(t *testing.T) {
	runner := &fakeRunner{}
	ctrl := NewController(runner, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.Stop(ctx, "app.service"))
	require.NoError(t, ctrl.Start(ctx, "app.service"))
	require.NoError(t, ctrl.Restart(ctx, "app.service"))
	assert.True(t, ctrl.IsActive(ctx, "app.service"))

	assert.Equal(t, []string{
		"systemctl stop app.service",
		"systemctl start app.service",
		"systemctl restart app.service",
		"systemctl is-active --quiet app.service",
	}, runner.calls)
}

func TestPauseAllStopsAtFirstFailure(t *testing.T) {
	runner := &fakeRunner{failUnits: map[string]bool{"broken.service": true}}
	ctrl := NewController(runner, nil)

	err := ctrl.PauseAll(context.Background(), []string{"app.service", "broken.service", "worker.service"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.service")

	// worker.service was never reached.
	for _, call := range runner.calls {
		assert.NotContains(t, call, "worker.service")
	}
}

func TestResumeAllContinuesPastFailures(t *testing.T) {
	runner := &fakeRunner{failUnits: map[string]bool{"broken.service": true}}
	ctrl := NewController(runner, nil)

	ctrl.ResumeAll(context.Background(), []string{"app.service", "broken.service", "worker.service"})

	assert.Equal(t, []string{
		"systemctl start app.service",
		"systemctl start broken.service",
		"systemctl start worker.service",
	}, runner.calls)
}

func TestWaitActive(t *testing.T) {
	runner := &fakeRunner{failUnits: map[string]bool{"slow.service": true}}
	ctrl := NewController(runner, nil)

	err := ctrl.WaitActive(context.Background(), "slow.service", 2, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become active")

	runner.failUnits = nil
	require.NoError(t, ctrl.WaitActive(context.Background(), "slow.service", 2, 0))
}

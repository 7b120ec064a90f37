package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/shde-project/shde/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Run_ExitCodeZero(t *testing.T) {
	cmd := executor.NewCommand("", []string{"true"}, 0)

	result, err := cmd.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestCommand_Run_NonZeroExitCodeIsNotAnError(t *testing.T) {
	cmd := executor.NewCommand("", []string{"false"}, 0)

	result, err := cmd.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestCommand_Run_CapturesStdout(t *testing.T) {
	cmd := executor.NewCommand("", []string{"echo", "hello"}, 0)

	result, err := cmd.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "hello")
}

func TestCommand_Run_TimeoutYieldsErrTimeout(t *testing.T) {
	cmd := executor.NewCommand("", []string{"sleep", "5"}, 10*time.Millisecond)

	_, err := cmd.Run(context.Background(), nil)
	require.ErrorIs(t, err, executor.ErrTimeout)
}

func TestCommand_Run_AppendsTargetsAsArgs(t *testing.T) {
	cmd := executor.NewCommand("", []string{"echo"}, 0)

	result, err := cmd.Run(context.Background(), []string{"a.py", "b.py"})
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, "a.py b.py")
}

package shellexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/simmerhq/simmer/pkg/api"
)

func TestRunner_CapturesStdoutStderrAndExitCode(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command: "echo out; echo err >&2; exit 3",
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.ExitCode)
	require.Equal(t, "out\n", res.Stdout)
	require.Equal(t, "err\n", res.Stderr)
	require.False(t, res.StdoutTruncated)
	require.Greater(t, res.Duration, time.Duration(0))
}

func TestRunner_EnvAndCwd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRunner()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command: "echo \"$GREETING in $(pwd)\"",
		Cwd:     dir,
		Env:     map[string]string{"GREETING": "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Contains(t, res.Stdout, "hello in ")
	require.Contains(t, res.Stdout, dir)
}

func TestRunner_InheritsProcessEnv(t *testing.T) {
	t.Setenv("SHELLEXEC_TEST_VAR", "inherited")

	r := NewRunner()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command: "echo $SHELLEXEC_TEST_VAR",
	})
	require.NoError(t, err)
	require.Equal(t, "inherited\n", res.Stdout)
}

func TestRunner_TimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	start := time.Now()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command: "echo partial; sleep 30",
		Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, -1, res.ExitCode)
	require.Equal(t, "partial\n", res.Stdout)
	require.Less(t, time.Since(start), 10*time.Second)
}

func TestRunner_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	r := NewRunner()
	res, err := r.Run(ctx, api.ShellRequest{Command: "sleep 30"})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
	require.Equal(t, -1, res.ExitCode)
}

func TestRunner_OutputTruncation(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command:       "printf 'aaaaaaaaaaaaaaaaaaaa'",
		MaxOutputSize: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, strings.Repeat("a", 10), res.Stdout)
	require.True(t, res.StdoutTruncated)
	require.False(t, res.StderrTruncated)
}

func TestRunner_CommandNotFoundExitCode(t *testing.T) {
	t.Parallel()

	r := NewRunner()
	res, err := r.Run(context.Background(), api.ShellRequest{
		Command: "definitely-not-a-real-command-xyz",
	})
	require.NoError(t, err)
	require.Equal(t, 127, res.ExitCode)
}

func TestCappedBuffer(t *testing.T) {
	t.Parallel()

	b := newCappedBuffer(5)
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Writes past the cap report full length so the producer never blocks.
	n, err = b.Write([]byte("defgh"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "abcde", b.String())
	require.True(t, b.Truncated())

	unlimited := newCappedBuffer(0)
	_, err = unlimited.Write([]byte(strings.Repeat("x", 100)))
	require.NoError(t, err)
	require.Equal(t, 100, len(unlimited.String()))
	require.False(t, unlimited.Truncated())
}

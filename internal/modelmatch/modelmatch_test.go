package modelmatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var available = []string{
	"opus-2025-01-15",
	"opus-2025-06-01",
	"sonnet-2025-03-10",
	"sonnet-2025-07-20",
	"haiku-2024-11-01",
}

func TestResolve_PlainNamePassesThrough(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sonnet-2025-03-10", Resolve("sonnet-2025-03-10", available))
	require.Equal(t, "not-in-list", Resolve("not-in-list", available))
	require.Equal(t, "", Resolve("", available))
}

func TestResolve_GlobPicksNewest(t *testing.T) {
	t.Parallel()

	require.Equal(t, "opus-2025-06-01", Resolve("opus-*", available))
	require.Equal(t, "sonnet-2025-07-20", Resolve("sonnet-*", available))
	require.Equal(t, "sonnet-2025-07-20", Resolve("*-2025-*", available))
}

func TestResolve_NoMatchFallsBackToHint(t *testing.T) {
	t.Parallel()

	require.Equal(t, "gpt-*", Resolve("gpt-*", available))
	require.Equal(t, "opus-*", Resolve("opus-*", nil))
}

func TestIsPattern(t *testing.T) {
	t.Parallel()

	require.True(t, IsPattern("opus-*"))
	require.True(t, IsPattern("model-?"))
	require.True(t, IsPattern("model-[ab]"))
	require.False(t, IsPattern("opus-2025-06-01"))
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/simmerhq/simmer"
)

func TestParseVars(t *testing.T) {
	t.Parallel()

	vars, err := parseVars([]string{
		"region=eu-west-1",
		"replicas=3",
		"dry_run=true",
		`targets=["a","b"]`,
		"note=contains = sign",
	})
	require.NoError(t, err)

	require.Equal(t, "eu-west-1", vars["region"])
	require.Equal(t, float64(3), vars["replicas"])
	require.Equal(t, true, vars["dry_run"])
	require.Equal(t, []any{"a", "b"}, vars["targets"])
	require.Equal(t, "contains = sign", vars["note"])
}

func TestParseVars_Invalid(t *testing.T) {
	t.Parallel()

	_, err := parseVars([]string{"no-equals"})
	require.Error(t, err)

	_, err = parseVars([]string{"=value"})
	require.Error(t, err)
}

func TestParseVars_Empty(t *testing.T) {
	t.Parallel()

	vars, err := parseVars(nil)
	require.NoError(t, err)
	require.Nil(t, vars)
}

func TestReportSession_StatusMapping(t *testing.T) {
	t.Parallel()

	require.NoError(t, reportSession(&simmer.Session{ID: "s", Status: simmer.StatusCompleted}, false))
	require.NoError(t, reportSession(&simmer.Session{ID: "s", Status: simmer.StatusPartial}, false))
	require.Error(t, reportSession(&simmer.Session{ID: "s", Status: simmer.StatusFailed}, false))
	require.Error(t, reportSession(&simmer.Session{ID: "s", Status: simmer.StatusAborted}, false))
}

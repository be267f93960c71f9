package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simmerhq/simmer"
)

var (
	runVars []string
	runJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run <recipe.yaml>",
	Short: "Run a recipe to completion",
	Long: `Run one session of a recipe.

Context variables can be seeded with --var; values that parse as JSON are
decoded (numbers, booleans, lists, objects), everything else stays a string.

Examples:
  simmer run deploy.yaml
  simmer run deploy.yaml --var region=eu-west-1 --var replicas=3
  simmer run deploy.yaml --var 'targets=["a","b"]' --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "context variable key=value (repeatable)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final session as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, logger, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	initial, err := parseVars(runVars)
	if err != nil {
		return err
	}

	// Interrupt aborts the session; checkpointed work stays resumable.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := simmer.RunFile(ctx, eng, args[0], initial)
	if err != nil {
		return err
	}

	logger.Debug("session finished", "session_id", sess.ID, "status", sess.Status)
	return reportSession(sess, runJSON)
}

// parseVars decodes key=value pairs, treating values as JSON where possible.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			vars[key] = decoded
		} else {
			vars[key] = value
		}
	}
	return vars, nil
}

// reportSession prints the session result and maps non-success to an error
// so the process exits non-zero.
func reportSession(sess *simmer.Session, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sess); err != nil {
			return err
		}
	} else {
		fmt.Printf("session %s: %s\n", sess.ID, sess.Status)
		if sess.Err != "" {
			fmt.Printf("  error: %s\n", sess.Err)
		}
	}

	switch sess.Status {
	case simmer.StatusCompleted, simmer.StatusPartial:
		return nil
	default:
		return fmt.Errorf("session %s ended %s", sess.ID, sess.Status)
	}
}

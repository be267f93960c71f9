package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/simmerhq/simmer"
)

var (
	resumeRecipe string
	resumeJSON   bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a failed, partial or aborted session",
	Long: `Resume a session from its latest checkpoint.

Succeeded and skipped steps keep their results; failed and interrupted steps
run again. The recipe file must be supplied so the engine can rebuild the
step graph.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeRecipe, "recipe", "r", "", "recipe file the session was started from (required)")
	resumeCmd.Flags().BoolVar(&resumeJSON, "json", false, "print the final session as JSON")
	resumeCmd.MarkFlagRequired("recipe")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	recipe, err := simmer.LoadRecipeFile(resumeRecipe)
	if err != nil {
		return err
	}
	if err := eng.RegisterRecipe(recipe); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := eng.Resume(ctx, args[0])
	if err != nil {
		return err
	}
	return reportSession(sess, resumeJSON)
}

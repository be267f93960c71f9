package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/simmerhq/simmer"
)

var (
	lsRecipe string
	lsStatus string
	lsJSON   bool
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List sessions",
	Long: `List persisted sessions, newest last.

Examples:
  simmer ls
  simmer ls --status FAILED
  simmer ls --recipe deploy --json`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

func init() {
	lsCmd.Flags().StringVar(&lsRecipe, "recipe", "", "filter by recipe name")
	lsCmd.Flags().StringVar(&lsStatus, "status", "", "filter by status (RUNNING, COMPLETED, FAILED, PARTIAL, ABORTED)")
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(lsCmd)
}

func runLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sessions, err := eng.ListSessions(cmd.Context(), simmer.SessionListOptions{
		RecipeName: lsRecipe,
		Status:     simmer.Status(lsStatus),
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	if lsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRECIPE\tSTATUS\tUPDATED")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			sess.ID, sess.RecipeName, sess.Status,
			sess.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

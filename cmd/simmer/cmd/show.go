package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := eng.GetSession(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Recipe:   %s\n", sess.RecipeName)
	fmt.Printf("Status:   %s\n", sess.Status)
	fmt.Printf("Created:  %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
	if sess.Err != "" {
		fmt.Printf("Error:    %s\n", sess.Err)
	}

	if len(sess.Outcomes) > 0 {
		keys := make([]string, 0, len(sess.Outcomes))
		for k := range sess.Outcomes {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println("\nSteps:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  STEP\tSTATUS\tATTEMPTS\tDURATION\tERROR")
		for _, k := range keys {
			o := sess.Outcomes[k]
			fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\n",
				k, o.Status, o.Attempts, o.Duration.Round(time.Millisecond), o.Error)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(sess.Context) > 0 {
		fmt.Println("\nContext:")
		data, err := json.MarshalIndent(sess.Context, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("  %s\n", data)
	}
	return nil
}

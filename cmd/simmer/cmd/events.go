package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/simmerhq/simmer"
)

var eventsJSON bool

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show a session's history, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, _, cleanup, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	events, err := simmer.SessionEvents(cmd.Context(), eng, args[0])
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No events recorded")
		return nil
	}

	if eventsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tTYPE\tSTEP\tDETAIL")
	for _, ev := range events {
		step := ev.StepID
		if step != "" && ev.Iteration >= 0 {
			step = simmer.OutcomeKey(ev.StepID, ev.Iteration)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ev.At.Format("15:04:05.000"), ev.Type, step, ev.Detail)
	}
	return w.Flush()
}

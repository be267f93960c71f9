package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/simmerhq/simmer"
)

var validateCmd = &cobra.Command{
	Use:   "validate <recipe.yaml>...",
	Short: "Validate recipe files without running them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	var failed bool
	for _, path := range args {
		recipe, err := simmer.LoadRecipeFile(path)
		if err != nil {
			failed = true
			fmt.Printf("%s: %v\n", path, err)
			continue
		}
		fmt.Printf("%s: ok (%s v%s, %d steps)\n", path, recipe.Name, recipe.Version, len(recipe.Steps))
	}
	if failed {
		return errors.New("validation failed")
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maauso/cardmotion/internal/animation"
)

func newPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List suggested animation prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i, p := range animation.Suggestions() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, p)
			}
			return nil
		},
	}
}

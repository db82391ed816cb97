package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Greeting is printed by the default command.
const Greeting = "Hello, world!"

// NewDefaultCommand creates the default command, which prints a static
// greeting and never touches the pipeline.
func NewDefaultCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "default",
		Short:         "Print a greeting",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
				return formatter.Success(map[string]string{"greeting": Greeting})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Greeting)
			return err
		},
	}
}

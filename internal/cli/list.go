package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list [REPO]",
		Short: "List configured repos, or the tags of one repo",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{})
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return r.List(cmd.OutOrStdout(), name, format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "default", "Output format: default, csv or json")

	return cmd
}

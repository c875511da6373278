package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewCleanCmd creates the clean command
func NewCleanCmd() *cobra.Command {
	var (
		arch  string
		force bool
		regex bool
	)

	cmd := &cobra.Command{
		Use:   "clean REPO",
		Short: "Remove files not referenced by current metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{Force: force})
			if err != nil {
				return err
			}
			return r.Clean(cmd.Context(), args[0], arch, regex)
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Limit to one architecture")
	cmd.Flags().BoolVar(&force, "force", false, "Do not prompt")
	cmd.Flags().BoolVar(&regex, "regex", false, "Treat REPO as a regex over repo names")

	return cmd
}

package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	var arch string

	cmd := &cobra.Command{
		Use:   "init REPO",
		Short: "Generate fresh metadata for a local repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{})
			if err != nil {
				return err
			}
			return r.Init(cmd.Context(), args[0], arch)
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Limit to one architecture")

	return cmd
}

package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewAddFileCmd creates the add-file command
func NewAddFileCmd() *cobra.Command {
	var (
		arch  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "add-file REPO FILE...",
		Short: "Copy files into a local repo and reindex it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{Force: force})
			if err != nil {
				return err
			}
			return r.AddFile(cmd.Context(), args[0], arch, args[1:])
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Target architecture")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.MarkFlagRequired("arch")

	return cmd
}

// NewDelFileCmd creates the del-file command
func NewDelFileCmd() *cobra.Command {
	var arch string

	cmd := &cobra.Command{
		Use:   "del-file REPO FILE...",
		Short: "Remove files from a local repo and reindex it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{})
			if err != nil {
				return err
			}
			return r.DelFile(cmd.Context(), args[0], arch, args[1:])
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Target architecture")
	cmd.MarkFlagRequired("arch")

	return cmd
}

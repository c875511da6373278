package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewMirrorCmd creates the mirror command
func NewMirrorCmd() *cobra.Command {
	var (
		arch         string
		checksums    bool
		force        bool
		ignoreErrors bool
		regex        bool
	)

	cmd := &cobra.Command{
		Use:   "mirror REPO",
		Short: "Update the head tag of a repo from its upstream",
		Long: `Fetches upstream metadata, plans the set of files needing download,
validates local files by size or digest and downloads drifted ones.
REPO may be a repo name, "all", or a regex with --regex.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{
				Force:        force,
				Checksums:    checksums,
				IgnoreErrors: ignoreErrors,
			})
			if err != nil {
				return err
			}
			return r.Mirror(cmd.Context(), args[0], arch, regex)
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Limit to one architecture")
	cmd.Flags().BoolVar(&checksums, "checksums", false, "Validate by digest instead of size")
	cmd.Flags().BoolVar(&force, "force", false, "Re-download files even when the local copy validates")
	cmd.Flags().BoolVar(&ignoreErrors, "ignore-errors", false, "Log per-package errors instead of failing")
	cmd.Flags().BoolVar(&regex, "regex", false, "Treat REPO as a regex over repo names")

	return cmd
}

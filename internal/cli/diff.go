package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewDiffCmd creates the diff command
func NewDiffCmd() *cobra.Command {
	var (
		arch   string
		srcTag string
		format string
	)

	cmd := &cobra.Command{
		Use:   "diff REPO TAG",
		Short: "Show package differences between two tags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{})
			if err != nil {
				return err
			}
			return r.Diff(cmd.OutOrStdout(), args[0], args[1], arch, srcTag, format)
		},
	}

	cmd.Flags().StringVar(&arch, "arch", "", "Architecture to compare")
	cmd.Flags().StringVar(&srcTag, "src-tag", "head", "Tag to compare against")
	cmd.Flags().StringVar(&format, "format", "default", "Output format: default, csv or json")
	cmd.MarkFlagRequired("arch")

	return cmd
}

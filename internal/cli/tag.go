package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/spf13/cobra"
)

// NewTagCmd creates the tag command
func NewTagCmd() *cobra.Command {
	var (
		srcTag  string
		symlink bool
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "tag REPO TAG",
		Short: "Snapshot a tag of a repo under a new name",
		Long: `Builds TAG from an existing source tag, either as a symbolic link
(pointer semantics) or a hardlink tree (snapshot semantics). Tag names
matching the configured hard_tag_regex always get hardlinks.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(cmd, backend.Options{Force: force})
			if err != nil {
				return err
			}
			return r.Tag(args[0], args[1], srcTag, symlink)
		},
	}

	cmd.Flags().StringVar(&srcTag, "src-tag", "head", "Source tag to snapshot")
	cmd.Flags().BoolVar(&symlink, "symlink", false, "Create a symbolic link instead of a hardlink tree")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing tag")

	return cmd
}

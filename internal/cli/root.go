package cli

import (
	"github.com/ralt/repomirror/internal/backend"
	"github.com/ralt/repomirror/internal/config"
	"github.com/ralt/repomirror/internal/lockfile"
	"github.com/ralt/repomirror/internal/orchestrator"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var lockMgr = lockfile.NewManager()

// Cleanup releases any lock still held; main defers it so a signal
// never leaves a stale lock file behind.
func Cleanup() {
	lockMgr.ReleaseCurrent()
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repomirror",
		Short: "Mirror remote package repositories and tag snapshots of them",
		Long: `Repomirror maintains local mirrors of remote package repositories
and snapshots mirrored state into named tags that downstream package
managers consume unchanged.

Supported repository types:
  - Yum/RPM (repomd.xml metadata)
  - Apt (flat Packages indexes)
  - Plain (unindexed file trees)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringP("config", "c", "/etc/repomirror.yaml", "Path to the repo catalog")

	// Add subcommands
	rootCmd.AddCommand(NewMirrorCmd())
	rootCmd.AddCommand(NewCleanCmd())
	rootCmd.AddCommand(NewTagCmd())
	rootCmd.AddCommand(NewDiffCmd())
	rootCmd.AddCommand(NewListCmd())
	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewAddFileCmd())
	rootCmd.AddCommand(NewDelFileCmd())

	return rootCmd
}

// newRunner loads and validates the catalog, then builds a runner
// with the given options.
func newRunner(cmd *cobra.Command, opts backend.Options) (*orchestrator.Runner, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(cfg, lockMgr, opts), nil
}

// Package commands implements the codexbridge CLI commands using cobra.
package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hollisner/codexbridge/pkg/codexbridge/config"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codexbridge",
		Short: "Codex Bridge - session-oriented chat against the codex binary",
		Long: `Codex Bridge runs chat sessions against a local codex binary, with
document mentions, skills, and automatic context compaction.

Examples:
  codexbridge chat "总结 @[[notes/plan]]"
  codexbridge chat              # interactive REPL
  codexbridge sessions list
  codexbridge skills list --refresh
  codexbridge compact`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newSessionsCmd(),
		newSkillsCmd(),
		newCompactCmd(),
		newSetupCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the settings file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadApp builds the application context from the command's flags.
func loadApp(cmd *cobra.Command) (*config.App, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	settings, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return config.NewApp(settings, logger)
}

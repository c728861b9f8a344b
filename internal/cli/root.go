// Package cli provides the command-line interface for qianyu.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

const defaultConfigDir = ".qianyu"

var (
	configDir string
	debugLog  bool
)

var rootCmd = &cobra.Command{
	Use:   "qianyu",
	Short: "Relay new Bilibili, X and RSS posts into Discord",
	Long:  "qianyu polls Bilibili, X (Twitter) and RSS feeds for new posts by the accounts it follows and relays each new post once to Discord channels as an embed.",

	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "qianyu %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultConfigDir, "config directory")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Logs go to stderr so command output
// on stdout stays clean.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func defaultLogger() *slog.Logger {
	return newLogger(os.Stderr)
}

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NickNameYouTuber/NIMeet/internal/logging"
	"github.com/NickNameYouTuber/NIMeet/internal/ui"
	"github.com/NickNameYouTuber/NIMeet/internal/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "nimeet",
	Short:   "Terminal client for NIMeet video conferencing rooms",
	Long: `NIMeet is a command-line client for NIMeet conference rooms. It joins
a room over the signaling relay, negotiates direct WebRTC connections with
every participant, and handles camera, microphone, screen sharing and chat
from the terminal.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	logging.Init(slog.LevelWarn)

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

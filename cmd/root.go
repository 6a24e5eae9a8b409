package cmd

import (
	"context"
	"os"

	"github.com/nguyentranbao-ct/chat-replica/internal/app"
	"github.com/nguyentranbao-ct/chat-replica/internal/kafka"
	"github.com/nguyentranbao-ct/chat-replica/internal/server"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chat-replica",
	Short:         "Replicates local chat collections with the canonical store and runs the bot pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			kafka.StartConsumeCanonicalChanges,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Errorw(context.Background(), "command failed", "error", err)
		os.Exit(1)
	}
}

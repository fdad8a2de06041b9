// writerctl controls file-writing jobs on a remote file writer: `serve` runs
// the controller service, the other commands talk to a running service.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"writerctl/internal/config"
)

var (
	flagServer  string
	flagAPIKey  string
	flagVerbose bool
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		slog.Error("writerctl failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "writerctl",
		Short:             "Start, stop and track file-writing jobs",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initLogging,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", config.GetEnv("WRITERCTL_SERVER", "http://localhost:8080"), "writerctl service URL")
	root.PersistentFlags().StringVar(&flagAPIKey, "api-key", config.GetEnv("WRITERCTL_API_KEY", ""), "bearer token for the service API")
	root.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	root.AddCommand(newServeCmd())
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func initLogging(cmd *cobra.Command, _ []string) error {
	level := config.ParseLogLevel(config.GetEnv("LOG_LEVEL", "info"))
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// writer-sim is a simulated file writer for local development and e2e tests.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"writerctl/internal/config"
	"writerctl/internal/simwriter"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("writer-sim failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := simwriter.LoadConfigFromEnv()

	cmd := &cobra.Command{
		Use:           "writer-sim",
		Short:         "Simulated file writer: accepts commands, reports status events",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := config.ParseLogLevel(config.GetEnv("LOG_LEVEL", "info"))
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return simwriter.New(cfg).Run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Port, "port", cfg.Port, "listen port for commands")
	f.StringVar(&cfg.IngressURL, "ingress", cfg.IngressURL, "URL receiving status events")
	f.DurationVar(&cfg.HeartbeatInterval, "heartbeat", cfg.HeartbeatInterval, "heartbeat interval")
	f.BoolVar(&cfg.Knobs.RejectStarts, "reject-starts", cfg.Knobs.RejectStarts, "refuse every start command")
	f.BoolVar(&cfg.Knobs.FailStopAcks, "fail-stop-acks", cfg.Knobs.FailStopAcks, "refuse every stop time")
	f.BoolVar(&cfg.Knobs.Silent, "silent", cfg.Knobs.Silent, "send no heartbeats")
	f.BoolVar(&cfg.Knobs.StopWithError, "stop-with-error", cfg.Knobs.StopWithError, "flag stop confirmations as errors")
	f.DurationVar(&cfg.Knobs.AckDelay, "ack-delay", cfg.Knobs.AckDelay, "delay before acknowledging commands")
	return cmd
}

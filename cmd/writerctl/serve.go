package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"writerctl/internal/api"
	"writerctl/internal/bus"
	"writerctl/internal/commander"
	"writerctl/internal/config"
	"writerctl/internal/controller"
	"writerctl/internal/dispatcher"
	"writerctl/internal/health"
	"writerctl/internal/monitor"
	"writerctl/internal/observability"
	"writerctl/internal/registry"
	"writerctl/internal/scan"
	"writerctl/internal/structure"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcCfg := config.LoadServiceConfig()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	provider, namer, err := loadTemplates(svcCfg)
	if err != nil {
		return err
	}

	// Status path: ingress -> bus -> monitor -> registry
	statusBus := bus.NewMemory(bus.LoadConfigFromEnv())
	sub, err := statusBus.Subscribe(svcCfg.StatusTopics...)
	if err != nil {
		return fmt.Errorf("subscribe %v: %w", svcCfg.StatusTopics, err)
	}
	reg := registry.New(registry.LoadConfigFromEnv())
	mon := monitor.New(reg, monitor.LoadConfigFromEnv(), metrics)

	// Command path: API -> scan binding -> controller -> file writer
	writer := commander.New(commander.LoadConfigFromEnv(), metrics)
	ctrl := controller.New(reg, writer, provider, namer, controller.LoadConfigFromEnv(), metrics)
	binding := scan.New(ctrl, scan.LoadConfigFromEnv())

	notifications := dispatcher.NewMemory(dispatcher.LoadConfigFromEnv(), metrics)
	notifier := dispatcher.NewStatusNotifier(notifications, svcCfg.StatusCallbackURL, svcCfg.StatusCallbackKey)
	mon.OnStatusChange(func(st monitor.Status) {
		slog.Info("Status changed", "level", st.Level, "message", st.Message)
		notifier.Notify(string(st.Level), st.Message, jobIDs(reg.Jobs()))
	})

	healthChecker := health.NewChecker(writer, mon)

	router := api.NewRouter(api.RouterConfig{
		Jobs:          ctrl,
		Scan:          binding,
		Status:        mon,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Ingress: api.Ingress{
			Publisher:    statusBus,
			DefaultTopic: svcCfg.StatusTopics[0],
			SigningKey:   svcCfg.IngressKey,
		},
		APIKey: svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:    ":" + svcCfg.Port,
		Handler: router,
		// Start and stop block for up to the acknowledgement timeout
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(gctx, sub) })
	g.Go(func() error { return mon.RunTicker(gctx) })
	g.Go(func() error {
		slog.Info("Starting API server", "port", svcCfg.Port)
		return listen(apiServer)
	})
	g.Go(func() error {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		return listen(metricsServer)
	})
	g.Go(func() error {
		<-gctx.Done()

		// Phase 1: fail readiness so load balancers stop sending traffic
		healthChecker.SetShuttingDown()
		if ctx.Err() != nil && svcCfg.ShutdownDrainWait > 0 {
			slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
			time.Sleep(svcCfg.ShutdownDrainWait)
		}

		// Phase 2: finish in-flight requests, then end the consumer
		slog.Info("Starting graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server shutdown error", "error", err)
		}
		statusBus.Close()
		return nil
	})

	runErr := g.Wait()

	// Phase 3: deliver queued status notifications
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := notifications.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}
	stats := notifications.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Jobs keep writing on the file writer; a restarted service does not adopt them.
	if jobs := reg.Jobs(); len(jobs) > 0 {
		slog.Warn("Shutting down with tracked jobs", "jobs", jobIDs(jobs))
	}
	slog.Info("Shutdown complete")
	return runErr
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

func loadTemplates(cfg *config.ServiceConfig) (structure.Provider, structure.Namer, error) {
	var provider structure.Provider = structure.Noop{}
	if cfg.StructureTemplate != "" {
		tmpl, err := structure.LoadTemplate(cfg.StructureTemplate)
		if err != nil {
			return nil, nil, err
		}
		provider = tmpl
		slog.Info("Structure template loaded", "path", cfg.StructureTemplate)
	}

	var namer structure.Namer
	if cfg.FilenameTemplate != "" {
		fn, err := structure.ParseFilename(cfg.FilenameTemplate)
		if err != nil {
			return nil, nil, err
		}
		namer = fn
	}
	return provider, namer, nil
}

func jobIDs(jobs []registry.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

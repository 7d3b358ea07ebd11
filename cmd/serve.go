package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/callrelay/internal/logging"
	"github.com/BioHazard786/callrelay/internal/metrics"
	"github.com/BioHazard786/callrelay/internal/server"
	"github.com/BioHazard786/callrelay/internal/signaling"
	"github.com/BioHazard786/callrelay/internal/version"
)

const metricsLogInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	Long: `Run the signaling server until interrupted.

Examples:
  callrelay serve
  callrelay serve --listen-addr :9000 --log-format json
  CALLRELAY_TURN_SERVER=turn.example.com callrelay serve --config callrelay.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	m := metrics.New()
	hub := signaling.NewHub(signaling.HubOptions{
		PendingCallTimeout: cfg.PendingCallTimeout,
		Metrics:            m,
		Logger:             logger,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer func() {
		stopHub()
		<-hub.Done()
	}()
	go hub.Run(hubCtx)
	m.StartPeriodicLog(metricsLogInterval, hub.Done())

	srv := server.New(cfg, hub, m, logger)
	logger.Info("starting callrelay",
		"version", version.Version,
		"addr", cfg.ListenAddr,
		"pending_call_timeout", cfg.PendingCallTimeout,
		"turn", cfg.TURNServer != "",
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	m.LogSummary()
	return nil
}

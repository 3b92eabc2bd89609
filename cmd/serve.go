package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/trend-curator/internal/api"
	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/monitoring"
)

const shutdownTimeout = 30 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, health checker and control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		instance := flock.New(cfg.Server.LockFile)
		ok, err := instance.TryLock()
		if err != nil {
			return eris.Wrap(err, "acquire instance lock")
		}
		if !ok {
			return eris.Errorf("another curator daemon holds %s", cfg.Server.LockFile)
		}
		defer instance.Unlock() //nolint:errcheck

		env, err := initCurator(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.Start(ctx); err != nil {
			return eris.Wrap(err, "start scheduler")
		}
		restored, err := env.Orch.Restore(ctx)
		if err != nil {
			zap.L().Error("restore schedules failed", zap.Error(err))
		}

		collector := monitoring.NewCollector(env.Store, time.Duration(cfg.Monitoring.OverdueGraceMins)*time.Minute)
		checker := monitoring.NewChecker(collector, env.Alerter, env.Metrics,
			time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second)
		go checker.Run(ctx)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := api.New(env.Orch, env.Store, collector, env.Registry, cfg.Server.CORSOrigins).Routes()
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		done := make(chan struct{})
		go func() {
			defer close(done)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if err := env.Scheduler.Stop(shutdownCtx); err != nil {
				zap.L().Warn("scheduler stop", zap.Error(err))
			}
			if err := env.Orch.Wait(shutdownCtx); err != nil {
				zap.L().Warn("in-flight runs did not finish", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Int("restored_schedules", restored),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			stop()
			<-done
			return eris.Wrap(err, "server listen")
		}
		<-done

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

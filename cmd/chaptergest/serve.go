package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/chaptergest/internal/api"
	"github.com/dgallion1/chaptergest/internal/config"
	"github.com/dgallion1/chaptergest/internal/pipeline"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the chaptergest HTTP server. Runs are queued and executed one at a
time against the configured model backend.

Endpoints:
  GET  /health                      health check (no auth)
  POST /api/runs                    queue a run over the input folder or uploaded files
  GET  /api/runs/{runID}            run status and progress
  GET  /api/runs/{runID}/chapter    finished chapter as plain text
  GET  /api/stats/llm               model latency statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(func(c *config.Config) {
			if cmd.Flags().Changed("port") {
				c.Server.Port = servePort
			}
		})
		if err != nil {
			return err
		}
		if err := cfg.ValidateServer(); err != nil {
			logger.Error("invalid configuration", "error", err)
			return err
		}

		comps, err := build(cfg, logger)
		if err != nil {
			return err
		}
		defer comps.Close()

		ctx := cmd.Context()
		sched := pipeline.NewScheduler(comps.runner, cfg.SchedulerConfig(), logger)
		sched.Start(ctx)

		srv := api.NewServer(sched, comps.model, comps.stats, api.Options{
			APIKey:         cfg.Server.APIKey,
			InputDir:       cfg.InputDir,
			UploadDir:      cfg.Server.UploadDir,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
		}, logger)

		httpServer := &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      srv,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			<-ctx.Done()
			logger.Info("shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			sched.Stop()
		}()

		logger.Info("starting chaptergest", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			return err
		}
		<-stopped
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides server.port)")
}

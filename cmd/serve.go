package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/yz4230/shipyard/internal/config"
	"github.com/yz4230/shipyard/internal/server"
)

var serveFlags struct {
	listen       string
	dataDir      string
	mode         string
	pollingOn    bool
	drainTimeout time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, the pipeline runner and the git poller",
	RunE: func(cmd *cobra.Command, args []string) error {
		appCfg, err := config.Load(rootFlags.config)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			appCfg.Listen = serveFlags.listen
		}
		if cmd.Flags().Changed("data-dir") {
			appCfg.DataDir = serveFlags.dataDir
		}
		if cmd.Flags().Changed("mode") {
			appCfg.Mode = serveFlags.mode
		}
		if cmd.Flags().Changed("poll") {
			appCfg.Poller.Enabled = serveFlags.pollingOn
		}
		if err := appCfg.Validate(); err != nil {
			return err
		}
		logFile := appCfg.Log.File
		if rootFlags.logFile != "" {
			logFile = rootFlags.logFile
		}
		setupLogger(logFile, appCfg.Log)

		cfg := &server.Config{App: appCfg, Logger: log.Logger}
		srv, err := server.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		srv.RunBackground(ctx)

		wg := &sync.WaitGroup{}
		wg.Go(func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cfg.Logger.Fatal().Err(err).Msg("server error")
			}
		})

		<-ctx.Done()
		cfg.Logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveFlags.drainTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			cfg.Logger.Error().Err(err).Msg("error during server shutdown")
		}

		wg.Wait()
		cfg.Logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", ":3001", "Address to listen on")
	serveCmd.Flags().StringVarP(&serveFlags.dataDir, "data-dir", "d", "./data", "Directory holding the sqlite database")
	serveCmd.Flags().StringVarP(&serveFlags.mode, "mode", "m", "simulate", "Pipeline execution mode: simulate or real")
	serveCmd.Flags().BoolVar(&serveFlags.pollingOn, "poll", false, "Poll watched repositories for new commits")
	serveCmd.Flags().DurationVar(&serveFlags.drainTimeout, "drain-timeout", 30*time.Second, "How long shutdown waits for running pipelines")
}

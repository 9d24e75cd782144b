package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrametric/carbon-cli/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "")
		if err != nil {
			return err
		}
		defer env.Close()

		if len(cfg.Server.APITokens) == 0 {
			return eris.New("server.api_tokens is empty; no client could authenticate")
		}

		srv := server.New(env.Pipeline, env.Store, env.Checker, server.Options{
			APITokens:      cfg.Server.APITokens,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxFileBytes:   int64(cfg.Import.MaxFileBytes),
			RateWindow:     time.Duration(cfg.RateLimit.WindowSecs) * time.Second,
			RateMax:        cfg.RateLimit.MaxRequests,
			Events:         env.Queue,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("store", cfg.Store.Driver),
			zap.Int("catalog_size", env.Catalog.Len()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

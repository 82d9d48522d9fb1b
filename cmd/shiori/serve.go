package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/watcher"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		host    string
		port    int
		noWatch bool
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Run the HTTP API and watch configured directories",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, logger, _, err := g.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := openComponents(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(context.Background()); err != nil {
					logger.Error("close failed", zap.Error(err))
				}
			}()

			opts := []server.Option{}
			if c.keyword != nil {
				opts = append(opts, server.WithKeywordIndex(c.keyword))
			}
			if !noWatch {
				w := watcher.New(cfg.Watch.Directories, watcher.NewIngestHandler(c.ingester, logger),
					watcher.WithLogger(logger),
					watcher.WithDebounce(cfg.Watch.Debounce),
					watcher.WithRecursive(cfg.Watch.RecursiveOrDefault()))
				if err := w.Start(ctx); err != nil {
					return err
				}
				defer w.Stop()
				go w.SyncExistingFiles()
				logger.Info("watching directories", zap.Strings("directories", w.Directories()))
				opts = append(opts, server.WithWatch(w, cfgPath))
			}

			srv := server.NewServer(c.retriever, c.index, c.ingester, cfg, logger, opts...)
			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch directories")
	return cmd
}

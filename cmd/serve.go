package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/api"
)

const defaultShutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand, which exposes health, metrics
// and read-only race endpoints until interrupted.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves feature and ingestion lookups over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.GetConfig().Server
			if addr != "" {
				cfg.Addr = addr
			}
			logger := appInstance.GetLogger().Named("api")
			server := api.NewServer(appInstance.GetStore(), logger, api.WithAPIKey(cfg.APIKey))

			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Addr, err)
			}
			srv := &http.Server{
				Handler:           server.Handler(),
				ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			}

			ctx := cmd.Context()
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", ln.Addr().String()))
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info("shutdown initiated")
			if cfg.ShutdownTimeout <= 0 {
				cfg.ShutdownTimeout = defaultShutdownTimeout
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

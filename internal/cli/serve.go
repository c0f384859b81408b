package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lachlan2k/gatehouse/internal/metrics"
	"github.com/lachlan2k/gatehouse/internal/password"
	"github.com/lachlan2k/gatehouse/internal/users"
	"github.com/lachlan2k/gatehouse/internal/webserver"
	"github.com/spf13/cobra"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full server: login page, auth API and the gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := users.Open(ctx, conf)
			if err != nil {
				return err
			}
			defer store.Close()

			hasher, err := password.New(conf)
			if err != nil {
				return err
			}

			m := metrics.New()
			server, err := webserver.New(conf, store, hasher, m)
			if err != nil {
				return err
			}
			logger := server.Logger()

			if conf.Metrics.Listen != "" {
				metricsServer := m.Server(conf.Metrics.Listen)
				go func() {
					logger.Infof("Serving metrics on %s", conf.Metrics.Listen)
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Errorf("Metrics listener stopped: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					shutdownMetrics(shutdownCtx, metricsServer, logger)
				}()
			}

			return server.Run(ctx)
		},
	}
}

func shutdownMetrics(ctx context.Context, srv *http.Server, logger echo.Logger) {
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Metrics listener didn't shut down cleanly: %v", err)
	}
}

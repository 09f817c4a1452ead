package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mindpulse/pipeline"
	"mindpulse/server"
	"mindpulse/watch"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and dashboard push channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var hub *server.Hub
			a, err := newApp(ctx, opts, func(logger *zap.Logger) pipeline.Notifier {
				hub = server.NewHub(logger)
				return hub
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a, hub)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func serve(ctx context.Context, a *app, hub *server.Hub) error {
	srv := server.New(a.orchestrator, hub, a.registry, a.cfg.Server, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)

	if a.cfg.Moderation.Watch && a.cfg.Moderation.RulesFile != "" {
		w := watch.NewRulesWatcher(a.cfg.Moderation.RulesFile, a.orchestrator, a.logger)
		g.Go(func() error {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("rules watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

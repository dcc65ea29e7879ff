package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/article-capture/internal/delivery/http/handler"
	"github.com/user/article-capture/internal/delivery/http/router"
	"github.com/user/article-capture/internal/usecase"
	"github.com/user/article-capture/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the status API and the background capture worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd.Context(), func(a *app) error {
				return serve(cmd.Context(), a, !noWorker)
			})
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Serve the API only; queued URLs wait for another process.")
	return cmd
}

func serve(ctx context.Context, a *app, withWorker bool) error {
	urls := a.urlManager()
	hopts := []handler.Option{handler.WithHealthCheck("store", a.store)}
	if a.rdb != nil {
		hopts = append(hopts, handler.WithHealthCheck("redis", handler.PingFunc(func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		})))
	}

	var (
		capturer usecase.Capturer
		worker   *usecase.Worker
	)
	if withWorker {
		c, err := a.browserCapturer(ctx)
		if err != nil {
			return err
		}
		capturer = c
		worker = usecase.NewWorker(c, urls, a.cfg.ProcessInterval, a.cfg.BatchSize, logger.Component(a.logger, "worker"))
		hopts = append(hopts, handler.WithTrigger(worker.Trigger))
	} else {
		capturer = a.capturer(nil, nil)
	}

	httpLogger := logger.Component(a.logger, "http")
	h := handler.NewHandler(urls, capturer, httpLogger, hopts...)
	server := &http.Server{
		Addr:         ":" + a.cfg.ServerPort,
		Handler:      router.New(h, httpLogger),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("server started", zap.String("port", a.cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if worker != nil {
		worker.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		if worker != nil {
			worker.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.logger.Info("server exiting")
	return err
}

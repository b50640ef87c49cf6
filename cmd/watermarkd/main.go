package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/async"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
	"github.com/joseph-ayodele/pdf-watermarker/internal/export"
	"github.com/joseph-ayodele/pdf-watermarker/internal/jobfile"
	repo "github.com/joseph-ayodele/pdf-watermarker/internal/repository"
	"github.com/joseph-ayodele/pdf-watermarker/internal/server"
	"github.com/joseph-ayodele/pdf-watermarker/internal/services/batch"
)

func main() {
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run ledger (optional)
	var (
		ledger  server.Ledger
		store   export.RunStore
		svcOpts []batch.Option
	)
	if cfg.Ledger.DSN != "" {
		l, err := repo.Open(ctx, repo.ConfigFrom(cfg.Ledger), logger)
		if err != nil {
			logger.Error("failed to open run ledger", "error", err)
			os.Exit(1)
		}
		defer l.Close()
		if err := l.Migrate(ctx); err != nil {
			logger.Error("failed to migrate run ledger", "error", err)
			os.Exit(1)
		}
		logger.Info("run ledger ready", "dialect", l.Dialect())
		ledger, store = l, l
		svcOpts = append(svcOpts, batch.WithRecorder(l))
	}

	svc, err := batch.NewService(cfg, logger, svcOpts...)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	hub := server.NewHub(logger)
	queue := async.NewBatchQueue(logger,
		async.WithQueueSize(cfg.Server.QueueSize),
		async.WithRunTimeout(cfg.Server.RunTimeout),
		async.WithHistory(cfg.Server.HistorySize),
		async.WithOnFinish(func(c *core.Controller, sum entity.Summary) {
			logger.Info("run finished",
				"run_id", sum.RunID,
				"state", sum.State,
				"documents", sum.Progress.Total,
				"succeeded", sum.Succeeded(),
				"failed", len(sum.Failures()),
				"skipped", sum.Progress.Skipped,
				"output_root", c.Job().OutputRoot,
			)
		}),
	)
	api := server.New(svc, queue, ledger, export.NewService(store, logger), hub, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.NewRouter(cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health and reflection for orchestrators and grpcurl
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("HTTP serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC serving", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	if cfg.Watch.Inbox != "" {
		template, err := jobfile.Load(cfg.Watch.JobFile)
		if err != nil {
			logger.Error("failed to load watch job template", "path", cfg.Watch.JobFile, "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return svc.WatchInbox(gctx, cfg.Watch.Inbox, template, cfg.Watch.Debounce, func(ctx context.Context, c *core.Controller) error {
				hub.Forward(c)
				return queue.Submit(ctx, c)
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		queue.Shutdown(shutdownCtx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/twoframe/internal/api"
	"github.com/dunamismax/twoframe/internal/config"
	"github.com/dunamismax/twoframe/internal/pipeline"
	"github.com/dunamismax/twoframe/internal/storage"
	"github.com/dunamismax/twoframe/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newRootCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "twoframe",
		Short: "Serve static images as two-frame GIFs",
		Long: `twoframe fetches the image at ?url=, decodes it and answers with a GIF whose
first frame is an empty placeholder and whose second frame is the image.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *cfg)
		},
	}
	bindFlags(cmd.Flags(), cfg)
	return cmd
}

// bindFlags registers flags whose defaults are the environment-derived values.
func bindFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.API.Addr, "addr", cfg.API.Addr, "public listen address")
	fs.StringVar(&cfg.API.AdminAddr, "admin-addr", cfg.API.AdminAddr, "metrics and health listen address (empty disables)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: console or json")
	fs.DurationVar(&cfg.Fetch.Timeout, "fetch-timeout", cfg.Fetch.Timeout, "upstream fetch timeout")
	fs.Int64Var(&cfg.Fetch.MaxBytes, "max-bytes", cfg.Fetch.MaxBytes, "maximum upstream body size in bytes")
	fs.IntVar(&cfg.GIF.FrameDelay, "frame-delay", cfg.GIF.FrameDelay, "per-frame delay in hundredths of a second")
	fs.StringVar(&cfg.Response.CacheControl, "cache-control", cfg.Response.CacheControl, "Cache-Control value for successful responses (empty disables)")
	fs.BoolVar(&cfg.Response.AcceptRanges, "accept-ranges", cfg.Response.AcceptRanges, "advertise and honor byte ranges")
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "twoframe",
		Exporter:     cfg.Tracing.Exporter,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	fetcher, err := buildFetcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	processor, err := pipeline.NewProcessor(fetcher, pipeline.DecodeLimits{MaxPixels: cfg.Decode.MaxPixels}, cfg.GIF.FrameDelay)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer pipeline.Shutdown()

	app := api.NewServer(logger, processor, api.ResponseOptions{
		CacheControl: cfg.Response.CacheControl,
		AcceptRanges: cfg.Response.AcceptRanges,
	})

	servers := []*http.Server{{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Fetch.Timeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}}
	if cfg.API.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.API.AdminAddr,
			Handler:           app.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server stopped", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return serveErr
}

func buildFetcher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Fetcher, error) {
	httpFetcher := pipeline.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, cfg.Fetch.UserAgent)
	if !cfg.Storage.Enabled() {
		return httpFetcher, nil
	}

	client, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object storage: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.CheckBucket(checkCtx); err != nil {
		logger.Warn("object storage source unavailable", zap.String("bucket", client.Bucket()), zap.Error(err))
	} else {
		logger.Info("object storage source enabled", zap.String("bucket", client.Bucket()))
	}

	return pipeline.SchemeFetcher{
		Default: httpFetcher,
		ByScheme: map[string]pipeline.Fetcher{
			pipeline.SchemeObjectStore: pipeline.NewObjectStoreFetcher(client, cfg.Fetch.MaxBytes),
		},
	}, nil
}

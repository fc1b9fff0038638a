package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ytpdf/internal/adapters/audioupload"
	"ytpdf/internal/adapters/convertapi"
	"ytpdf/internal/adapters/downloader"
	"ytpdf/internal/adapters/localstorage"
	"ytpdf/internal/adapters/redisstore"
	"ytpdf/internal/config"
	"ytpdf/internal/core/domain"
	"ytpdf/internal/logging"
	"ytpdf/internal/metrics"
	"ytpdf/internal/service"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A missing .env is fine; variables may be set in the environment.
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLogger().Error().Err(err).Msg("invalid configuration")
		return 2
	}
	opts, err := parseFlags(args, cfg, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		bootLogger().Error().Err(err).Msg("invalid arguments")
		return 2
	}

	logger := logging.NewWithWriter(cfg.Log.Logging(), os.Stderr)
	if envErr != nil {
		logger.Debug().Msg("no .env file found")
	}
	out := newPrinter(os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Warn().Msg("received interrupt signal, cancelling")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to set up metrics")
			return 2
		}
		defer stop()
	}

	if opts.audio != "" {
		return uploadAudio(ctx, cfg, opts.audio, logger, out)
	}

	storage := localstorage.NewLocalStorage(cfg.Storage.DataDir)
	orchOpts := []service.Option{
		service.WithPollConfig(cfg.Poll.Domain()),
		service.WithOutcomeHandler(out),
	}
	if opts.noDownload {
		orchOpts = append(orchOpts, service.WithoutDownload())
	}
	if cfg.RedisEnabled() {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to redis")
			return 1
		}
		defer client.Close()
		orchOpts = append(orchOpts, service.WithJobIndex(redisstore.NewJobIndex(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL)))
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("job index enabled")
	}

	if opts.list {
		orch := service.NewOrchestrator(nil, nil, nil, storage, logger, orchOpts...)
		history, err := orch.History(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to list jobs")
			return 1
		}
		out.history(history)
		return 0
	}

	if opts.lookup != "" {
		orch := service.NewOrchestrator(nil, nil, nil, storage, logger, orchOpts...)
		outcome, err := orch.Lookup(ctx, opts.lookup)
		if err != nil {
			logger.Error().Err(err).Str("job_id", opts.lookup).Msg("no recorded outcome")
			return 1
		}
		out.outcome(outcome)
		return exitCode(outcome.Kind == domain.OutcomeSuccess)
	}

	if err := cfg.ValidateConversion(); err != nil {
		logger.Error().Err(err).Msg("conversion endpoints are not configured")
		return 2
	}
	client, err := convertapi.NewClient(convertapi.Options{
		SubmitURL: cfg.API.SubmitURL,
		StatusURL: cfg.API.StatusURL,
		Timeout:   cfg.API.HTTPTimeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize conversion client")
		return 2
	}
	poller := service.NewPoller(client, logger)
	defer poller.Wait()

	orch := service.NewOrchestrator(
		client,
		poller,
		downloader.NewHTTPDownloader(cfg.API.DownloadTimeout),
		storage,
		logger,
		orchOpts...,
	)

	logger.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Dur("interval", cfg.Poll.Interval).
		Dur("timeout", cfg.Poll.Timeout).
		Msg("ytpdf client ready")

	if opts.resume != "" {
		result, err := orch.Resume(ctx, opts.resume)
		if err != nil {
			logger.Error().Err(err).Msg("resume failed")
			return 1
		}
		out.summary(result)
		return exitCode(result.Success())
	}

	return convertAll(ctx, orch, opts, cfg.API.ClientID, logger, out)
}

// convertAll runs one job per URL, at most opts.parallel at a time.
// A failed job does not stop the others.
func convertAll(ctx context.Context, orch *service.Orchestrator, opts *options, clientID string, logger *zerolog.Logger, out *printer) int {
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(opts.parallel)

	for _, u := range opts.urls {
		g.Go(func() error {
			result, err := orch.RunJob(ctx, domain.ConversionRequest{SourceURL: u, ClientID: clientID})
			if err != nil {
				failed.Add(1)
				if result == nil || result.Handle.JobID == "" {
					out.submitFailed(u, err)
				} else {
					logger.Warn().Err(err).Str("job_id", result.Handle.JobID).Msg("stopped before an outcome; resume later with -resume")
				}
				return nil
			}
			out.summary(result)
			if !result.Success() {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		logger.Warn().Int32("failed", n).Int("total", len(opts.urls)).Msg("some jobs did not succeed")
		return 1
	}
	return 0
}

func uploadAudio(ctx context.Context, cfg *config.Config, path string, logger *zerolog.Logger, out *printer) int {
	if err := cfg.ValidateUpload(); err != nil {
		logger.Error().Err(err).Msg("upload endpoint is not configured")
		return 2
	}
	uploader, err := audioupload.NewUploader(cfg.API.UploadURL, cfg.API.HTTPTimeout, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize uploader")
		return 2
	}
	if err := uploader.Upload(ctx, path, cfg.API.ClientID); err != nil {
		out.submitFailed(path, err)
		return 1
	}
	logger.Info().Str("file", path).Msg("audio uploaded; the PDF will be delivered to the client")
	return 0
}

// serveMetrics exposes /metrics until the returned stop func is called.
func serveMetrics(addr string, logger *zerolog.Logger) (func(), error) {
	reg, err := metrics.NewRegistry()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func bootLogger() *zerolog.Logger {
	return logging.NewWithWriter(logging.Config{Level: "info", Format: "console"}, os.Stderr)
}

func exitCode(ok bool) int {
	if ok {
		return 0
	}
	return 1
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/lora-orchestrator/internal/api"
	"github.com/kraklabs/lora-orchestrator/internal/backend"
	"github.com/kraklabs/lora-orchestrator/internal/blobsource"
	"github.com/kraklabs/lora-orchestrator/internal/config"
	"github.com/kraklabs/lora-orchestrator/internal/generation"
	"github.com/kraklabs/lora-orchestrator/internal/logger"
	orchmetrics "github.com/kraklabs/lora-orchestrator/internal/metrics"
	"github.com/kraklabs/lora-orchestrator/internal/orchestrator"
	"github.com/kraklabs/lora-orchestrator/internal/session"
	"github.com/kraklabs/lora-orchestrator/internal/sweeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP serving orchestrator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := buildBlobSource(ctx, cfg)
	if err != nil {
		return fmt.Errorf("serve: build blob source: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := orchmetrics.New(registry)

	engine := backend.NewFake()

	orch, err := orchestrator.New(orchestrator.Config{
		MaxHandles:  cfg.Core.MaxHandles,
		IdleSeconds: cfg.Core.IdleSeconds,
		ScratchRoot: cfg.Store.ScratchRoot,
	}, source, engine, log)
	if err != nil {
		return fmt.Errorf("serve: build orchestrator: %w", err)
	}
	orch = orch.WithMetrics(m)

	front := generation.New(engine, backend.DecodeParams{
		NumBeams:      cfg.Decode.NumBeams,
		NoRepeatNgram: cfg.Decode.NoRepeatNgram,
		LengthPenalty: cfg.Decode.LengthPenalty,
		EarlyStopping: cfg.Decode.EarlyStopping,
		MaxEncoderLen: cfg.Decode.MaxEncoderLen,
	}, m.TokensGeneratedTotal)

	sessionStore, err := buildSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("serve: build session store: %w", err)
	}
	sessions := session.NewRegistry(sessionStore)
	sessions.SetMetrics(m)

	loadedAt := time.Now()
	configService := config.NewService(cfg, loadedAt, config.SourceEnv)

	router := api.NewRouter(api.Deps{
		Orchestrator:       orch,
		Front:              front,
		Sessions:           sessions,
		Config:             configService,
		Metrics:            m,
		Registry:           registry,
		Logger:             log,
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	sweeper.RunIn(g, gctx, sweeper.New(orch, log))

	g.Go(func() error {
		log.Info("orchestrator serving", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.GracefulShutdownSeconds)*time.Second)
		defer cancel()

		log.Info("shutting down")
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("forced shutdown", "error", err)
		}
		orch.ReleaseAll()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("orchestrator exited")
	return nil
}

func buildBlobSource(ctx context.Context, cfg *config.Config) (blobsource.Source, error) {
	layout := blobsource.Layout(cfg.Store.Layout)

	if !cfg.IsRemoteStore() {
		return blobsource.NewLocal(cfg.Store.LocalRoot, cfg.Store.ScratchRoot, layout), nil
	}

	return blobsource.NewS3(ctx, blobsource.S3Config{
		Endpoint:        endpointFor(cfg),
		Region:          cfg.Store.Region,
		AccessKeyID:     cfg.Store.AccessKey,
		SecretAccessKey: cfg.Store.SecretKey,
		Bucket:          cfg.Store.Bucket,
		Layout:          layout,
		UsePathStyle:    cfg.Store.UsePathStyle,
	})
}

// endpointFor returns the custom S3 endpoint for a MinIO deployment, or ""
// to let the AWS SDK resolve the real S3 endpoint from the region.
func endpointFor(cfg *config.Config) string {
	if cfg.Store.Impl == "minio" {
		return cfg.Store.URL
	}
	return ""
}

func buildSessionStore(cfg *config.Config) (session.Store, error) {
	if cfg.Session.Backend == "redis" {
		return session.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.RedisDB, 0)
	}
	return session.NewMemoryStore(), nil
}

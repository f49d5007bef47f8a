package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/metalalive/atfp-go/internal/config"
	"github.com/metalalive/atfp-go/internal/contentcache"
	"github.com/metalalive/atfp-go/internal/crypto"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/fileproc/hls"
	"github.com/metalalive/atfp-go/internal/fileproc/imageproc"
	"github.com/metalalive/atfp-go/internal/fileproc/mp4"
	"github.com/metalalive/atfp-go/internal/infrastructure/cache"
	"github.com/metalalive/atfp-go/internal/infrastructure/metrics"
	"github.com/metalalive/atfp-go/internal/infrastructure/postgres"
	"github.com/metalalive/atfp-go/internal/infrastructure/queue"
	infraStorage "github.com/metalalive/atfp-go/internal/infrastructure/storage"
	"github.com/metalalive/atfp-go/internal/staging"
	"github.com/metalalive/atfp-go/internal/storage"
	"github.com/metalalive/atfp-go/internal/transcoder"
	"github.com/metalalive/atfp-go/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Worker.StagingRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create staging root: %w", err)
	}
	if err := os.MkdirAll(cfg.Worker.UploadRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create upload root: %w", err)
	}

	pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pgClient.Close()
	logger.Info("connected to PostgreSQL")

	minioClient, err := infraStorage.NewClient(ctx, infraStorage.ClientConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueClient, err := queue.NewClient(ctx, queue.DefaultClientConfig(cfg.RabbitMQ.URL()))
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis")

	keyStore := crypto.NewFileKeyStore(cfg.Crypto.KeyStorePath)
	rotationNotifier := cache.NewRedisRotationNotifier(redisClient)
	keyManager, err := crypto.NewManager(keyStore, rotationNotifier, cfg.Crypto.MaxKeyAge)
	if err != nil {
		return fmt.Errorf("failed to initialize crypto key manager: %w", err)
	}

	versionRepo := postgres.NewVersionRepository(pgClient.Pool())
	versionCache := cache.NewRedisVersionCache(redisClient)
	cachedVersions := usecase.NewCachedVersionRepository(versionRepo, versionCache, usecase.DefaultCachedVersionRepositoryConfig())

	// sourceRegistry and destRegistry are separate Registry instances:
	// imageproc.InProcessor and imageproc.OutProcessor both claim
	// image/jpeg|png|webp labels, and a single shared registry would
	// resolve a destination image spec to the source processor since it
	// was registered first.
	sourceRegistry := fileproc.NewRegistry()
	sourceRegistry.Register(mp4.NewSourceProcessor)
	sourceRegistry.Register(imageproc.NewInProcessor)

	destRegistry := fileproc.NewRegistry()
	destRegistry.Register(func() fileproc.Processor {
		return hls.NewDestinationProcessor(hls.DefaultConfig(), transcoder.NewFFmpegBackend(), keyManager)
	})
	destRegistry.Register(func() fileproc.Processor {
		return imageproc.NewOutProcessor(imageproc.DefaultOutConfig(), transcoder.NewFFmpegBackend())
	})

	localBackend := storage.NewLocalBackend()
	remoteBackend := storage.NewRemoteBackend(minioClient)
	storageResolver := usecase.NewStaticStorageResolver(localBackend, map[string]storage.Backend{
		cfg.MinIO.Bucket: remoteBackend,
	})

	stagingMgr := staging.NewManager(localBackend)
	contentCache := contentcache.NewCache(cfg.Cache.Root)

	jobService := usecase.NewJobService(
		cachedVersions,
		sourceRegistry,
		destRegistry,
		storageResolver,
		stagingMgr,
		contentCache,
		keyManager,
		usecase.JobServiceConfig{
			UploadRoot:  cfg.Worker.UploadRoot,
			StagingRoot: cfg.Worker.StagingRoot,
		},
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	rotationDone := make(chan struct{})
	go runKeyRotationLoop(ctx, logger, keyManager, cfg.Crypto.RotationInterval, rotationDone)

	rotationSub, stopRotationSub := cache.SubscribeRotations(ctx, redisClient)
	rotationSubDone := make(chan struct{})
	go runKeyReloadLoop(logger, keyManager, rotationSub, rotationSubDone)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worker, consuming transcode jobs")
		err := queueClient.ConsumeJobs(ctx, func(job repository.TranscodeJob) (repository.JobReply, error) {
			wg.Add(1)
			defer wg.Done()

			logger.Info("processing job",
				slog.String("job_id", job.JobID),
				slog.Uint64("user_id", uint64(job.UserID)),
			)

			reply, err := jobService.ProcessJob(ctx, job)
			if err != nil {
				logger.Error("job processing failed",
					slog.String("job_id", job.JobID),
					slog.String("error", err.Error()),
				)
				return reply, err
			}

			logger.Info("job completed successfully", slog.String("job_id", job.JobID))
			return reply, nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down worker", slog.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	<-rotationDone
	<-rotationSubDone
	if err := stopRotationSub(); err != nil {
		logger.Warn("error closing rotation subscription", slog.String("error", err.Error()))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all in-flight jobs completed")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, some jobs may not have completed")
	}

	logger.Info("worker stopped")
	return nil
}

// runKeyReloadLoop drops the Crypto Key Manager's in-memory key set and
// re-reads it from the key store whenever another replica publishes a
// rotation, so this replica's GetKey("recent") stops serving a key that
// a peer has already superseded.
func runKeyReloadLoop(logger *slog.Logger, keyManager *crypto.Manager, rotations <-chan string, done chan<- struct{}) {
	defer close(done)
	for keyID := range rotations {
		if err := keyManager.Reload(); err != nil {
			logger.Error("failed to reload crypto keys after peer rotation",
				slog.String("key_id", keyID),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("reloaded crypto keys after peer rotation", slog.String("key_id", keyID))
	}
}

// runKeyRotationLoop periodically checks whether the Crypto Key
// Manager's tracked key set is due for rotation, closing done once ctx
// is canceled so the caller can join it during shutdown.
func runKeyRotationLoop(ctx context.Context, logger *slog.Logger, keyManager *crypto.Manager, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !keyManager.ShouldRotate(now) {
				continue
			}
			if err := keyManager.Rotate(now); err != nil {
				if err == crypto.ErrRotationInProgress {
					metrics.KeyRotationsTotal.WithLabelValues("in_progress").Inc()
					continue
				}
				metrics.KeyRotationsTotal.WithLabelValues("error").Inc()
				logger.Error("crypto key rotation failed", slog.String("error", err.Error()))
				continue
			}
			metrics.KeyRotationsTotal.WithLabelValues("success").Inc()
			logger.Info("rotated crypto key")
		}
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tally/internal/blobstore"
	"tally/internal/config"
	"tally/internal/gc"
	"tally/internal/server"
	"tally/internal/store"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the tally API server and blob collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			driver, err := store.ParseDriver(cfg.Database.Driver)
			if err != nil {
				return err
			}
			logger.Info("opening database", "driver", driver)
			st, err := store.OpenDriver(driver, cfg.DatabaseTarget())
			if err != nil {
				return err
			}
			defer st.Close()
			st.SetLogger(slog.Default().With("component", "store"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			blobs, err := openBlobStore(ctx, cfg.BlobStore)
			if err != nil {
				return err
			}

			var registry *prometheus.Registry
			var gcMetrics *gc.Metrics
			if cfg.Metrics.Enabled {
				registry = prometheus.NewRegistry()
				registry.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				if gcMetrics, err = gc.NewMetrics(registry); err != nil {
					return fmt.Errorf("register gc metrics: %w", err)
				}
			}

			queue, closeQueue, err := openGCQueue(ctx, cfg.GC)
			if err != nil {
				return err
			}
			defer closeQueue()

			collector := gc.New(st, blobs, gc.Options{
				BatchSize:           cfg.GC.BatchSize,
				MaxDeletesPerSecond: cfg.GC.MaxDeletesPerSecond,
				Queue:               queue,
				Metrics:             gcMetrics,
				Logger:              slog.Default().With("component", "gc"),
			})
			go collector.Run(ctx, cfg.GC.DrainPeriod(), cfg.GC.SweepInterval())

			srv, err := server.New(addr, st, blobs, server.Options{
				Logger:             logger,
				BlobBackend:        cfg.BlobStore.Backend,
				Collector:          collector,
				Registry:           registry,
				MaxUploadBytes:     cfg.Attachments.MaxUploadBytes,
				MultipartMaxMemory: cfg.Attachments.MultipartMaxMemory,
				AllowedMediaTypes:  cfg.Attachments.AllowedMediaTypes,
				MaxNameLength:      cfg.Attachments.MaxNameLength,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx)
		},
	}
}

func openBlobStore(ctx context.Context, cfg config.BlobStoreConfig) (blobstore.BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		return blobstore.NewLocalStore(cfg.Root)
	case "s3":
		client, err := blobstore.NewS3Client(ctx, blobstore.S3Config{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return blobstore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	default:
		return nil, fmt.Errorf("unsupported blob backend %q", cfg.Backend)
	}
}

func openGCQueue(ctx context.Context, cfg config.GCConfig) (gc.Queue, func(), error) {
	switch cfg.Queue {
	case "", "memory":
		return gc.NewMemoryQueue(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect gc queue %s: %w", cfg.RedisAddr, err)
		}
		return gc.NewRedisQueue(client, cfg.RedisKey), func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported gc queue %q", cfg.Queue)
	}
}

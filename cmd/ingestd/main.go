// Package main wires together the jobfeed ingestion service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/proofoffit/jobfeed-ingest/internal/api"
	gcsarchive "github.com/proofoffit/jobfeed-ingest/internal/archive/gcs"
	localarchive "github.com/proofoffit/jobfeed-ingest/internal/archive/local"
	"github.com/proofoffit/jobfeed-ingest/internal/clock/system"
	"github.com/proofoffit/jobfeed-ingest/internal/config"
	"github.com/proofoffit/jobfeed-ingest/internal/coordinator"
	collyfetcher "github.com/proofoffit/jobfeed-ingest/internal/fetcher/colly"
	"github.com/proofoffit/jobfeed-ingest/internal/id/uuid"
	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
	"github.com/proofoffit/jobfeed-ingest/internal/logging"
	"github.com/proofoffit/jobfeed-ingest/internal/metadata"
	memorypublisher "github.com/proofoffit/jobfeed-ingest/internal/publisher/memory"
	pubsubpublisher "github.com/proofoffit/jobfeed-ingest/internal/publisher/pubsub"
	"github.com/proofoffit/jobfeed-ingest/internal/robots"
	"github.com/proofoffit/jobfeed-ingest/internal/schedule"
	"github.com/proofoffit/jobfeed-ingest/internal/selector"
	memorystorage "github.com/proofoffit/jobfeed-ingest/internal/storage/memory"
	"github.com/proofoffit/jobfeed-ingest/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var (
		locks ingest.LockStore
		meta  ingest.MetadataStore
		items ingest.ItemSink
	)
	if cfg.DB.DSN != "" {
		lockStore, err := postgres.NewLockStore(ctx, cfg.DB.DSN, clock)
		if err != nil {
			logger.Fatal("lock store init failed", zap.Error(err))
		}
		defer lockStore.Close()
		metaStore, err := postgres.NewMetadataStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("metadata store init failed", zap.Error(err))
		}
		defer metaStore.Close()
		itemStore, err := postgres.NewItemStore(ctx, cfg.DB.DSN)
		if err != nil {
			logger.Fatal("item store init failed", zap.Error(err))
		}
		defer itemStore.Close()
		locks, meta, items = lockStore, metaStore, itemStore
	} else {
		logger.Warn("db.dsn not set, using in-memory stores")
		locks = memorystorage.NewLockStore(clock)
		meta = memorystorage.NewMetadataStore()
		items = memorystorage.NewItemStore()
	}

	var publisher ingest.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			_ = client.Close()
		}()
		publisher, err = pubsubpublisher.New(client)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
	} else {
		publisher = memorypublisher.New()
	}

	var blobs ingest.BlobStore
	switch {
	case cfg.Storage.GCSBucket != "":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("storage client init failed", zap.Error(err))
		}
		defer func() {
			_ = client.Close()
		}()
		blobs, err = gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
	case cfg.Storage.BaseDir != "":
		blobs, err = localarchive.New(localarchive.Config{BaseDir: cfg.Storage.BaseDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:  cfg.Ingest.UserAgent,
		Timeout:    cfg.FetchTimeout(),
		PerHostRPS: cfg.Ingest.PerHostRPS,
	})
	robotsGate := robots.NewGate(robots.Config{
		UserAgent: cfg.Ingest.UserAgent,
		CacheTTL:  cfg.RobotsCacheTTL(),
		Timeout:   cfg.FetchTimeout(),
		Allowlist: cfg.Robots.Allowlist,
	}, clock, logger.Named("robots"))

	coord := coordinator.New(
		coordinator.Config{
			LockName:           cfg.Ingest.LockName,
			LockTTL:            cfg.LockTTL(),
			ChangeTopic:        cfg.Ingest.ChangeTopic,
			ArchivePrefix:      cfg.Storage.Prefix,
			SelectorWindowDays: cfg.Ingest.SelectorWindowDays,
			Sources:            cfg.Sources,
		},
		coordinator.Deps{
			Locks:     locks,
			Metadata:  metadata.NewGate(meta, metadata.Config{SkewTolerance: cfg.SkewTolerance(), RefreshInterval: cfg.RefreshInterval()}),
			Fetcher:   fetcher,
			Robots:    robotsGate,
			Sink:      items,
			Monitor:   selector.NewMonitor(cfg.Ingest.SelectorRingSize),
			Retry:     ingest.NewRetryPolicyWith(cfg.HTTP.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax()),
			Publisher: publisher,
			Blobs:     blobs,
			Clock:     clock,
			IDs:       idGen,
		},
		logger.Named("coordinator"),
	)

	apiServer := api.NewServer(coord, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Schedule.CronSpec != "" {
		scheduler, err := schedule.New(cfg.Schedule.CronSpec, coord, logger.Named("schedule"))
		if err != nil {
			logger.Fatal("scheduler init failed", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("scheduler started", zap.String("spec", cfg.Schedule.CronSpec))
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

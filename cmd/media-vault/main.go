package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"media-vault/internal/backup"
	"media-vault/internal/cache"
	"media-vault/internal/cacheindex"
	"media-vault/internal/database"
	"media-vault/internal/eviction"
	"media-vault/internal/filesystem"
	"media-vault/internal/handlers"
	"media-vault/internal/jobs"
	"media-vault/internal/logging"
	"media-vault/internal/metrics"
	"media-vault/internal/middleware"
	"media-vault/internal/poster"
	"media-vault/internal/registry"
	"media-vault/internal/startup"
	"media-vault/internal/transcoder"
	"media-vault/internal/workers"
)

const (
	shutdownTimeout   = 30 * time.Second
	metricsInterval   = time.Minute
	badgerGCInterval  = 10 * time.Minute
	maxTranscodeLimit = 4
)

// app holds every long-lived component so shutdown can stop them in order.
type app struct {
	config    *startup.Config
	db        *database.Database
	index     cache.Index
	indexStop io.Closer
	runner    *transcoder.FFmpeg
	coord     *jobs.Coordinator
	evictor   *eviction.Manager
	scheduler *eviction.Scheduler
	scanner   *registry.Scanner
	posters   *poster.Generator
	backups   *backup.Uploader
	collector *metrics.Collector
}

func main() {
	startTime := time.Now()

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, config)
	if err != nil {
		startup.LogFatal("Initialization failed: %v", err)
	}

	h := handlers.New(handlers.Deps{
		DB:                 a.db,
		Index:              a.index,
		Coordinator:        a.coord,
		Runner:             a.runner,
		Eviction:           a.evictor,
		Scheduler:          a.scheduler,
		Posters:            a.posters,
		Backups:            a.backups,
		Registry:           a.scanner,
		MaxSizeBytes:       config.CacheMaxSize,
		TranscodingEnabled: config.TranscodingEnabled,
	})

	router := setupRouter(h, config)
	startup.LogHTTPRoutes(router, config.LogHealthChecks)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogHealthChecks = config.LogHealthChecks

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           middleware.Logger(loggingConfig)(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streams and progress feeds are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = &http.Server{
			Addr:         ":" + config.MetricsPort,
			Handler:      metricsRouter(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(srv) })
	if metricsSrv != nil {
		g.Go(func() error { return listen(metricsSrv) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			startup.LogShutdownInitiated("signal")
		}
		a.shutdown(srv, metricsSrv)
		return nil
	})

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := g.Wait(); err != nil {
		startup.LogFatal("Server error: %v", err)
	}
	startup.LogShutdownComplete()
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// build opens storage and starts the background components.
func build(ctx context.Context, config *startup.Config) (*app, error) {
	a := &app{config: config}

	filesystem.SetObserver(metrics.NewFilesystemObserver())
	filesystem.SetDefaultVolumeResolver(filesystem.NewVolumeResolver(map[string]string{
		"media":    config.MediaDir,
		"cache":    config.CacheDir,
		"database": config.DatabaseDir,
	}))
	metrics.InitializeMetrics()

	dbStart := time.Now()
	db, err := database.New(ctx, config.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.db = db

	index, closer, err := cacheindex.Open(config.IndexBackend, config.BadgerDir, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a.index, a.indexStop = index, closer
	startup.LogDatabaseInit(time.Since(dbStart), config.IndexBackend)
	if b, ok := index.(*cacheindex.Badger); ok {
		go runBadgerGC(ctx, b)
	}

	a.runner = transcoder.New(transcoder.Config{
		FFmpegPath:   config.FFmpegPath,
		FFprobePath:  config.FFprobePath,
		ProbeTimeout: config.ProbeTimeout,
	})

	transcodeWorkers := config.TranscodeWorkers
	if transcodeWorkers <= 0 {
		transcodeWorkers = workers.ForTranscode(maxTranscodeLimit)
	}
	startup.LogTranscoderInit(config.TranscodingEnabled, config.FFmpegPath, transcodeWorkers)

	idlePolicy, err := jobs.ParseIdlePolicy(config.IdlePolicy)
	if err != nil {
		logging.Warn("%v, using %s", err, idlePolicy)
	}
	layout := cache.Layout{Root: config.TranscodeDir}
	if config.TranscodingEnabled {
		jobCfg := jobs.DefaultConfig()
		jobCfg.Workers = transcodeWorkers
		jobCfg.JobTimeout = config.TranscodeTimeout
		jobCfg.TTL = config.CacheTTL
		jobCfg.SlidingTTL = config.CacheTTLSliding
		jobCfg.IdlePolicy = idlePolicy
		a.coord = jobs.New(jobCfg, index, a.runner, layout)
	}

	var active eviction.ActiveChecker = noActiveJobs{}
	if a.coord != nil {
		active = a.coord
	}
	a.evictor = eviction.New(index, active, eviction.Config{
		Root:         layout.Root,
		MaxSizeBytes: config.CacheMaxSize,
		JobTimeout:   config.TranscodeTimeout,
	})
	startup.LogEvictionInit(config.CleanupSchedule, humanize.Bytes(config.CacheMaxSize))
	a.scheduler, err = eviction.NewScheduler(a.evictor, config.CleanupSchedule, func(eviction.Result) {
		if err := db.SetLastCleanup(context.Background(), time.Now()); err != nil {
			logging.Warn("Failed to record cleanup time: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	if config.TranscodingEnabled {
		a.scheduler.Start()
	}

	startup.LogRegistryInit(config.IndexInterval)
	a.scanner = registry.New(db, config.MediaDir, config.IndexInterval, workers.ForScan(0))
	a.scanner.Start(ctx)

	posterCfg := poster.DefaultConfig()
	if config.PostersEnabled {
		posterCfg.Dir = config.PosterDir
	}
	posterCfg.FFmpegPath = config.FFmpegPath
	a.posters = poster.New(posterCfg)

	if config.BackupEnabled() {
		a.backups, err = backup.New(ctx, backup.Config{
			Endpoint:        config.BackupEndpoint,
			Bucket:          config.BackupBucket,
			Region:          config.BackupRegion,
			Prefix:          config.BackupPrefix,
			AccessKeyID:     config.BackupAccessKeyID,
			SecretAccessKey: config.BackupSecretAccessKey,
		})
		if err != nil {
			logging.Error("Backup disabled: %v", err)
			a.backups = nil
		} else {
			logging.Info("Backup uploads enabled (bucket %s)", config.BackupBucket)
		}
	}

	a.collector = metrics.NewCollector(&statsAdapter{index: index, db: db}, metricsInterval)
	a.collector.Start()

	return a, nil
}

func setupRouter(h *handlers.Handlers, config *startup.Config) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	stream := r.PathPrefix("/stream").Subrouter()
	stream.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestLimit: config.StreamRateLimit,
		WindowSize:   time.Minute,
	}))
	stream.HandleFunc("/{mediaId}", h.Stream).Methods("GET", "HEAD")
	stream.HandleFunc("/{mediaId}/transcode-progress", h.TranscodeProgress).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/media", h.ListMedia).Methods("GET")
	api.HandleFunc("/media/{mediaId}/info", h.MediaInfo).Methods("GET")
	api.HandleFunc("/media/{mediaId}/poster", h.Poster).Methods("GET")
	api.HandleFunc("/media/{mediaId}/backup", h.Backup).Methods("POST")

	api.HandleFunc("/cache/stats", h.CacheStats).Methods("GET")
	api.HandleFunc("/cache/entries", h.CacheEntries).Methods("GET")
	api.HandleFunc("/cache/cleanup", h.CacheCleanup).Methods("POST")
	api.HandleFunc("/cache", h.CacheClear).Methods("DELETE")

	return r
}

func metricsRouter() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", handlers.MetricsHandler()).Methods("GET")
	return r
}

// shutdown stops components in dependency order: no new requests, then no
// new jobs, then background loops, then storage.
func (a *app) shutdown(srv, metricsSrv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}

	if a.coord != nil {
		startup.LogShutdownStep("Cancelling transcode jobs")
		if err := a.coord.Shutdown(ctx); err != nil {
			logging.Warn("Transcode jobs did not stop in time: %v", err)
		} else {
			startup.LogShutdownStepComplete("Transcode jobs stopped")
		}
	}
	a.runner.Cleanup()

	startup.LogShutdownStep("Stopping background tasks")
	if err := a.scheduler.Stop(ctx); err != nil {
		logging.Warn("Cleanup scheduler stop: %v", err)
	}
	a.scanner.Stop()
	a.collector.Stop()
	startup.LogShutdownStepComplete("Background tasks stopped")

	startup.LogShutdownStep("Closing storage")
	if err := a.indexStop.Close(); err != nil {
		logging.Warn("Cache index close: %v", err)
	}
	if err := a.db.Close(); err != nil {
		logging.Warn("Database close: %v", err)
	}
	startup.LogShutdownStepComplete("Storage closed")
}

func runBadgerGC(ctx context.Context, b *cacheindex.Badger) {
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.RunGC()
		case <-ctx.Done():
			return
		}
	}
}

type noActiveJobs struct{}

func (noActiveJobs) IsActive(cache.Key) bool { return false }

// statsAdapter feeds the metrics collector from the cache index and the
// media registry.
type statsAdapter struct {
	index cache.Index
	db    *database.Database
}

func (s *statsAdapter) GetStats(ctx context.Context) (metrics.Stats, error) {
	summary, err := cache.Summarize(ctx, s.index)
	if err != nil {
		return metrics.Stats{}, err
	}
	byKind, err := s.db.CountByKind(ctx)
	if err != nil {
		return metrics.Stats{}, err
	}
	s.db.UpdateDBMetrics()
	return metrics.Stats{
		CacheSizeBytes: summary.ReadyBytes,
		CachePending:   summary.Pending,
		CacheReady:     summary.Ready,
		CacheFailed:    summary.Failed,
		MediaByKind:    byKind,
	}, nil
}

package handlers

import (
	"time"

	"media-vault/internal/backup"
	"media-vault/internal/cache"
	"media-vault/internal/database"
	"media-vault/internal/eviction"
	"media-vault/internal/jobs"
	"media-vault/internal/poster"
	"media-vault/internal/registry"
	"media-vault/internal/streaming"
	"media-vault/internal/transcoder"
)

// RegistryStatus reports the state of the media registry scanner.
type RegistryStatus interface {
	IsReady() bool
	Status() registry.Status
}

// Deps are the collaborators a Handlers serves from. Posters, Backups,
// Registry and Scheduler may be nil.
type Deps struct {
	DB          *database.Database
	Index       cache.Index
	Coordinator *jobs.Coordinator
	Runner      transcoder.Runner
	Eviction    *eviction.Manager
	Scheduler   *eviction.Scheduler
	Posters     *poster.Generator
	Backups     *backup.Uploader
	Registry    RegistryStatus

	MaxSizeBytes       uint64
	TranscodingEnabled bool
	Streaming          streaming.Config
}

type Handlers struct {
	db          *database.Database
	index       cache.Index
	coordinator *jobs.Coordinator
	runner      transcoder.Runner
	eviction    *eviction.Manager
	scheduler   *eviction.Scheduler
	posters     *poster.Generator
	backups     *backup.Uploader
	registry    RegistryStatus

	maxSizeBytes       uint64
	transcodingEnabled bool
	streamCfg          streaming.Config
	startTime          time.Time
}

func New(d Deps) *Handlers {
	if d.Streaming.WriteTimeout <= 0 {
		d.Streaming = streaming.DefaultConfig()
	}
	return &Handlers{
		db:                 d.DB,
		index:              d.Index,
		coordinator:        d.Coordinator,
		runner:             d.Runner,
		eviction:           d.Eviction,
		scheduler:          d.Scheduler,
		posters:            d.Posters,
		backups:            d.Backups,
		registry:           d.Registry,
		maxSizeBytes:       d.MaxSizeBytes,
		transcodingEnabled: d.TranscodingEnabled && d.Coordinator != nil,
		streamCfg:          d.Streaming,
		startTime:          time.Now(),
	}
}

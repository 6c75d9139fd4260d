// Package app wires the build pipeline's components from a loaded
// Config: storage backend, object store, STAC resolver, catalog,
// orchestrator, barrier coordinator and the three stage workers. Both
// cube-build-api and cube-build-worker bootstrap from this package so
// the wiring lives in exactly one place, grounded on the teacher's
// numbered-step bootstrap in cmd/crisk-check-server/main.go.
package app

import (
	"fmt"
	"net/http"

	"github.com/brazildatacube/cubebuilder/internal/barrier"
	"github.com/brazildatacube/cubebuilder/internal/blend"
	"github.com/brazildatacube/cubebuilder/internal/catalog"
	"github.com/brazildatacube/cubebuilder/internal/config"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/merge"
	"github.com/brazildatacube/cubebuilder/internal/objectstore"
	"github.com/brazildatacube/cubebuilder/internal/orchestrator"
	"github.com/brazildatacube/cubebuilder/internal/publish"
	"github.com/brazildatacube/cubebuilder/internal/queue"
	"github.com/brazildatacube/cubebuilder/internal/raster"
	"github.com/brazildatacube/cubebuilder/internal/stac"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// App holds every wired component a service entry point needs.
type App struct {
	Config        *config.Config
	Logger        *logrus.Logger
	Store         ledgerstore.Store
	Objects       objectstore.Store
	Catalog       *catalog.FileCatalog
	Resolver      *stac.Resolver
	Orchestrator  *orchestrator.Orchestrator
	Barrier       *barrier.Coordinator
	BatchLane     *queue.BatchLane
	StreamLane    *queue.StreamLane
	MergeWorker   *merge.Worker
	BlendWorker   *blend.Worker
	PublishWorker *publish.Worker
	datasets      *raster.DatasetCache
}

// Bootstrap constructs every component named in cfg. Callers should
// call Close when done to release storage connections and cached
// raster datasets.
func Bootstrap(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger store: %w", err)
	}

	objects, err := objectstore.NewFSStore(cfg.Object.LocalRoot)
	if err != nil {
		return nil, fmt.Errorf("app: open object store: %w", err)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}

	var stacCache *stac.Cache
	if cfg.STAC.CacheDBPath != "" {
		stacCache, err = stac.OpenCache(cfg.STAC.CacheDBPath, cfg.STAC.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("app: open stac cache: %w", err)
		}
	}
	resolver := stac.New(http.DefaultClient, cfg.STAC.RateLimitPerSecond, stacCache)

	orc := orchestrator.New(store, cat, resolver, logger)
	coord := barrier.New(store)
	batchLane := queue.NewBatchLane(store, cfg.Queue.BatchBudget)

	var streamLane *queue.StreamLane
	if cfg.Queue.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr, Password: cfg.Queue.RedisPassword})
		streamLane = queue.NewStreamLane(redisClient, cfg.Queue.StreamLane)
		orc.WithNotifier(streamLane)
	}

	datasets := raster.NewDatasetCache(2 * cfg.Worker.Concurrency)

	return &App{
		Config:        cfg,
		Logger:        logger,
		Store:         store,
		Objects:       objects,
		Catalog:       cat,
		Resolver:      resolver,
		Orchestrator:  orc,
		Barrier:       coord,
		BatchLane:     batchLane,
		StreamLane:    streamLane,
		MergeWorker:   merge.NewWorker(objects, datasets, logger),
		BlendWorker:   blend.NewWorker(store, objects, logger),
		PublishWorker: publish.NewWorker(store, objects, logger),
		datasets:      datasets,
	}, nil
}

func newStore(cfg *config.Config, logger *logrus.Logger) (ledgerstore.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return ledgerstore.NewPostgresStore(cfg.Storage.PostgresDSN, logger)
	default:
		return ledgerstore.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	}
}

// Close closes the raster dataset cache and the ledger store. The STAC
// response cache and the Redis client that Bootstrap opens are not closed.
func (a *App) Close() error {
	a.datasets.Close()
	return a.Store.Close()
}

// cube-build-worker runs the worker fleet: a pool of goroutines pulling
// claimed activities off both WorkQueue lanes and dispatching them to
// MergeWorker, BlendWorker or PublishWorker, then resolving the outcome
// through internal/stagerun. Bootstrap and graceful shutdown follow the
// teacher's cmd/crisk-check-server/main.go.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/app"
	"github.com/brazildatacube/cubebuilder/internal/config"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/stagerun"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	if os.Getenv("CUBEBUILDER_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("CUBEBUILDER_CONFIG"))
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if len(cfg.Worker.Datacubes) == 0 {
		logger.Fatal("worker.datacubes is empty: nothing to poll")
	}

	// 2. Wire storage, object store, catalog, workers
	a, err := app.Bootstrap(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("bootstrap")
	}
	defer a.Close()
	logger.WithField("datacubes", cfg.Worker.Datacubes).Info("worker fleet wired")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down gracefully")
		cancel()
	}()

	// 3. Start the worker pool and both lane dispatchers
	work := make(chan *models.Activity, cfg.Worker.Concurrency*2)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, id, a, work, logger, cfg.Worker.MaxRetries)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatchBatchLane(ctx, a, cfg, work, logger)
	}()

	if a.StreamLane != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatchStreamLane(ctx, a, cfg, work, logger)
		}()
	} else {
		logger.Warn("stream lane disabled (no redis_addr configured); batch lane polling only")
	}

	// 4. Run until shutdown, then drain the pool
	wg.Wait()
}

// runWorker pulls claimed activities and dispatches each to its stage
// worker, then resolves the outcome through stagerun.Finish.
func runWorker(ctx context.Context, id int, a *app.App, work <-chan *models.Activity, logger *logrus.Logger, maxRetries int) {
	workerLog := logger.WithField("worker_id", id)
	for {
		select {
		case <-ctx.Done():
			return
		case act, ok := <-work:
			if !ok {
				return
			}
			processActivity(ctx, a, act, workerLog, maxRetries)
		}
	}
}

func processActivity(ctx context.Context, a *app.App, act *models.Activity, logger logrus.FieldLogger, maxRetries int) {
	log := logger.WithFields(logrus.Fields{
		"activity_id": act.ActivityID,
		"action":      act.Action,
		"datacube":    act.DatacubeID,
		"tile":        act.TileID,
		"band":        act.Band,
		"period":      act.Period,
	})

	var workErr error
	switch act.Action {
	case models.ActionMerge:
		_, workErr = a.MergeWorker.Process(ctx, act)
	case models.ActionBlend:
		_, workErr = a.BlendWorker.Process(ctx, act)
	case models.ActionPublish:
		workErr = a.PublishWorker.Process(ctx, act)
	default:
		log.Errorf("unknown activity action %q", act.Action)
		return
	}

	if workErr != nil {
		log.WithError(workErr).Warn("activity failed")
	}
	if err := stagerun.Finish(ctx, a.Store, a.Barrier, act, workErr, maxRetries); err != nil {
		log.WithError(err).Error("resolve activity outcome")
	}
}

// dispatchBatchLane polls every configured datacube's batch lane in
// round robin, backing off for PollInterval when a full sweep claims
// nothing (§5 Backpressure: NOTDONE rows simply sit in the ledger).
func dispatchBatchLane(ctx context.Context, a *app.App, cfg *config.Config, work chan<- *models.Activity, logger *logrus.Logger) {
	actions := []models.Action{models.ActionMerge, models.ActionBlend, models.ActionPublish}
	ticker := time.NewTicker(cfg.Worker.PollInterval)
	defer ticker.Stop()

	for {
		claimedAny := false
		for _, cube := range cfg.Worker.Datacubes {
			for _, action := range actions {
				claimed, err := a.BatchLane.Claim(ctx, cube, action)
				if err != nil {
					logger.WithError(err).WithField("datacube", cube).Error("claim batch lane")
					continue
				}
				if len(claimed) > 0 {
					claimedAny = true
				}
				for _, act := range claimed {
					select {
					case work <- act:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		if claimedAny {
			continue // re-poll immediately: more work may be waiting
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dispatchStreamLane consumes low-latency wake-up notifications the
// Orchestrator pushes after registering a batch (internal/orchestrator's
// notify), and immediately reclaims from the batch lane for the named
// (datacube, action) pair rather than waiting out PollInterval.
func dispatchStreamLane(ctx context.Context, a *app.App, cfg *config.Config, work chan<- *models.Activity, logger *logrus.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := a.StreamLane.Pop(ctx, cfg.Worker.StreamTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("pop stream lane")
			continue
		}
		if msg == nil {
			continue // timeout, no message
		}

		action := models.Action(msg.Action)
		claimed, err := a.BatchLane.Claim(ctx, msg.DatacubeID, action)
		if err != nil {
			logger.WithError(err).WithField("datacube", msg.DatacubeID).Error("claim after stream wake-up")
			continue
		}
		for _, act := range claimed {
			select {
			case work <- act:
			case <-ctx.Done():
				return
			}
		}
	}
}

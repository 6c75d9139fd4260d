// cube-build-api hosts the §6 /start and /status endpoints, delegating
// to internal/orchestrator and internal/ledgerstore. Bootstrap and
// graceful shutdown follow the teacher's
// cmd/crisk-check-server/main.go.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/api"
	"github.com/brazildatacube/cubebuilder/internal/app"
	"github.com/brazildatacube/cubebuilder/internal/config"
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

	// 2. Wire storage, object store, catalog, STAC resolver, orchestrator
	a, err := app.Bootstrap(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("bootstrap")
	}
	defer a.Close()
	logger.Info("build pipeline components wired")

	// 3. Build the HTTP server
	addr := os.Getenv("CUBEBUILDER_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(a.Orchestrator, a.Store, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 4. Serve, with graceful shutdown on SIGINT/SIGTERM
	go func() {
		logger.WithField("addr", addr).Info("cube-build-api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("serve")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown")
		fmt.Fprintln(os.Stderr, err)
	}
}

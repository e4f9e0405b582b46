// Command shardd runs a single shard process: it loads its configuration,
// opens the page cache and every collection tree rooted under its data
// directory, and serves the wire protocol until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/shardkv/pkg/coldstore"
	"github.com/dd0wney/shardkv/pkg/config"
	"github.com/dd0wney/shardkv/pkg/logging"
	"github.com/dd0wney/shardkv/pkg/metrics"
	"github.com/dd0wney/shardkv/pkg/pagecache"
	"github.com/dd0wney/shardkv/pkg/wire"
)

func main() {
	configPath := flag.String("config", "./shard.yaml", "Path to the shard's YAML configuration file")
	metricsAddr := flag.String("metrics", ":9100", "Address the /metrics and /health HTTP endpoints bind")
	flag.Parse()

	logger := logging.NewDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("shardd: load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.PageSize != pagecache.PageSize {
		log.Fatalf("shardd: config page_size %d does not match the %d bytes this binary's on-disk layout is built for", cfg.PageSize, pagecache.PageSize)
	}

	reg := metrics.NewRegistry()
	cache := pagecache.New(cfg.PageCacheCapacity)
	cache.SetRecorder(reg)

	cold, err := coldstore.New(ctx, coldstore.Config{
		Bucket:          cfg.ColdStore.Bucket,
		Prefix:          cfg.ColdStore.Prefix,
		Region:          cfg.ColdStore.Region,
		AccessKeyID:     cfg.ColdStore.AccessKeyID,
		SecretAccessKey: cfg.ColdStore.SecretAccessKey,
	}, logger)
	if err != nil {
		log.Fatalf("shardd: init cold store: %v", err)
	}

	manager := newCollectionManager(cfg, cache, cold, logger, reg)
	if err := manager.openExisting(); err != nil {
		log.Fatalf("shardd: reopen collections: %v", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("shardd: close collections", logging.Error(err))
		}
	}()

	server := wire.NewServer(cfg.ListenAddr, manager, []byte(cfg.JWTSecret), logger, reg)

	go startAdminServer(*metricsAddr, reg, logger)
	go updateGauges(ctx, reg, cache)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- server.ListenAndServe(ctx)
	}()

	logger.Info("shardd: started",
		logging.String("listen_addr", cfg.ListenAddr),
		logging.String("data_dir", cfg.DataDir),
		logging.String("metrics_addr", *metricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shardd: shutdown signal received")
		cancel()
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("shardd: server exited", logging.Error(err))
		}
		return
	}

	if err := <-serveErrCh; err != nil {
		logger.Error("shardd: server exited after shutdown", logging.Error(err))
	}
}

// startAdminServer exposes Prometheus metrics and a liveness probe on a
// side-channel HTTP server next to the primary protocol listener.
func startAdminServer(addr string, reg *metrics.Registry, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("shardd: admin http server failed", logging.Error(err))
	}
}

// updateGauges refreshes the process-level and page-cache gauges every ten
// seconds until ctx is cancelled. Hit/miss/eviction counters arrive via the
// cache's recorder hook; only the sampled gauges need a poll loop.
func updateGauges(ctx context.Context, reg *metrics.Registry, cache *pagecache.Cache) {
	start := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		reg.UpdateSystemMetrics(start)
		_, _, _, size := cache.Stats()
		reg.CacheSizePages.Set(float64(size))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beyondbrewing/brewery-ledger/chaindb"
	"github.com/beyondbrewing/brewery-ledger/config"
	"github.com/beyondbrewing/brewery-ledger/db"
	"github.com/beyondbrewing/brewery-ledger/market"
	"github.com/beyondbrewing/brewery-ledger/pkg/logger"
	"github.com/beyondbrewing/brewery-ledger/utils"
)

func main() {
	utils.ImportEnv()
	cfgErr := utils.LoadConfig()

	// LoadConfig applies LOG_DEVELOPMENT before any failing key, so the
	// logger can be built before reporting the error.
	if config.LOG_DEVELOPMENT {
		logger.SetDefault(logger.MustDevelopment())
	} else {
		logger.SetDefault(logger.MustProduction())
	}
	defer logger.SyncDefault()
	if cfgErr != nil {
		logger.Fatal("invalid configuration", "error", cfgErr)
	}
	log := logger.Default().With("app", config.APP_NAME, "version", config.APP_VERSION)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := db.ParseBackend(config.STORE_BACKEND)
	if err != nil {
		logger.Fatal("invalid store backend", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d, err := chaindb.New(
		chaindb.WithBackend(backend),
		chaindb.WithDataDir(config.STORE_DATA_DIR),
		chaindb.WithStoreOptions(
			db.WithCacheSize(config.STORE_CACHE_SIZE),
			db.WithSyncWrites(config.STORE_SYNC_WRITES),
		),
		chaindb.WithSaveInterval(config.STORE_SAVE_INTERVAL),
		chaindb.WithRegisterer(reg),
		chaindb.WithLogger(log),
	)
	if err != nil {
		logger.Fatal("failed to create database", "error", err)
	}

	if _, err := market.NewHistory(d,
		market.WithMaxOrderRecords(config.HISTORY_MAX_ORDER_RECORDS),
		market.WithMaxOrderSeconds(config.HISTORY_MAX_ORDER_SECONDS),
		market.WithBuckets(config.HISTORY_MAX_BUCKETS, config.HISTORY_BUCKET_SIZES...),
		market.WithHistoryLogger(log),
	); err != nil {
		logger.Fatal("failed to register market history", "error", err)
	}
	if _, err := market.NewHTLCs(d); err != nil {
		logger.Fatal("failed to register htlc index", "error", err)
	}
	if _, err := market.NewWatchDogs(d); err != nil {
		logger.Fatal("failed to register watchdog index", "error", err)
	}

	var srv *http.Server
	if config.METRICS_ADDR != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv = &http.Server{Addr: config.METRICS_ADDR, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("serving metrics", "addr", config.METRICS_ADDR)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	runErr := d.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		logger.Fatal("database error", "error", runErr)
	}
}

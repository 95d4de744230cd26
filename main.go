package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger_scanner/aggregator"
	"ledger_scanner/config"
	"ledger_scanner/fetcher"
	"ledger_scanner/ledger"
	"ledger_scanner/locator"
	"ledger_scanner/middleware"
	"ledger_scanner/models"
	"ledger_scanner/monitoring"
	"ledger_scanner/prices"
	"ledger_scanner/scanner"
	"ledger_scanner/store"
	"ledger_scanner/utils"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	exitOK          = 0
	exitError       = 1
	exitUnreachable = 2
)

func main() {
	// .env is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := utils.InitLogger(cfg.App.LogLevel, cfg.App.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg)
	stop()
	_ = utils.Logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config) int {
	runID := uuid.New()
	utils.Logger = utils.Logger.With("run_id", runID.String())

	breaker := middleware.NewBreaker("ledger", cfg.Ledger.BreakerFailures, cfg.Ledger.BreakerTimeout)
	client := ledger.NewClient(ledger.Endpoints{
		AddressURL:   cfg.Ledger.AddressURL,
		TradesURL:    cfg.Ledger.TradesURL,
		SymbolsURL:   cfg.Ledger.SymbolsURL,
		MarkPriceURL: cfg.Ledger.MarkPriceURL,
	}, cfg.Ledger.RequestTimeout, breaker)
	monitoring.RegisterHealthCheck("ledger", client.Healthy)

	if cfg.Metrics.Addr != "" {
		startMonitoring(ctx, cfg.Metrics.Addr)
	}

	// Prices
	var cache prices.Cache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		redisCache := prices.NewRedisCache(rdb, cfg.Redis.PriceTTL)
		monitoring.RegisterHealthCheck("redis", func() bool { return redisCache.Ping(ctx) })
		cache = redisCache
	}
	priceMap, err := prices.NewResolver(client, cache).Load(ctx)
	if err != nil {
		if ctx.Err() != nil {
			utils.Logger.Infow("Interrupted while loading prices")
			return exitOK
		}
		if ledger.KindOf(err) == ledger.KindFatal {
			utils.Error(err, "Ledger unreachable while loading prices")
			return exitUnreachable
		}
		utils.Logger.Warnw("Price fetch failed, using execution prices only", "error", err)
		priceMap = models.PriceMap{}
	}

	rounding, err := aggregator.ParseRounding(cfg.Fees.Rounding)
	if err != nil {
		utils.Error(err, "Invalid rounding")
		return exitError
	}
	precision := aggregator.DefaultPrecision()
	precision.Rounding = rounding

	// Results
	fileSink := store.NewFileSink(cfg.Store.OutFile, precision.VolumePlaces, precision.FeePlaces)
	sinks := []store.Sink{fileSink}
	if cfg.ClickHouse.Enabled {
		ch, err := store.NewClickHouseSink(ctx, store.ClickHouseOptions{
			Host:         cfg.ClickHouse.Host,
			Port:         cfg.ClickHouse.Port,
			Database:     cfg.ClickHouse.Database,
			Username:     cfg.ClickHouse.User,
			Password:     cfg.ClickHouse.Password,
			QueryTimeout: cfg.ClickHouse.QueryTimeout,
			Debug:        cfg.ClickHouse.Debug,
		}, runID)
		if err != nil {
			utils.Error(err, "Failed to initialize ClickHouse sink")
			return exitError
		}
		defer ch.Close()
		monitoring.RegisterHealthCheck("clickhouse", func() bool { return ch.Ping(ctx) })
		sinks = append(sinks, ch)
	}
	results := store.NewResultStore(sinks...)
	prior, err := fileSink.Load()
	if err != nil {
		moved, moveErr := fileSink.SetAside(time.Now())
		if moveErr != nil {
			utils.Error(moveErr, "Unreadable results file could not be preserved", "path", fileSink.Path(), "load_error", err)
			return exitError
		}
		utils.Logger.Warnw("Unreadable results file set aside, starting empty",
			"path", fileSink.Path(), "moved_to", moved, "error", err)
	} else if len(prior) > 0 {
		results.Merge(prior)
		utils.Logger.Infow("Resuming from results file", "path", fileSink.Path(), "accounts", len(prior))
	}

	// Pipeline
	strategy, err := locator.ParseStrategy(cfg.Scan.Locator)
	if err != nil {
		utils.Error(err, "Invalid locator")
		return exitError
	}
	pagination, err := fetcher.ParsePagination(cfg.Fetch.Pagination)
	if err != nil {
		utils.Error(err, "Invalid pagination")
		return exitError
	}

	book := locator.NewAddressBook()
	probeRetry := ledger.RetryPolicy{MaxRetries: cfg.Scan.ProbeRetries}
	loc := locator.New(client, locator.Options{
		Strategy: strategy,
		Ceiling:  cfg.Scan.MaxID,
		Retry:    probeRetry,
		Pacer:    locator.NewPacer(cfg.Scan.DiscoveryDelay),
		Book:     book,
	})
	trades := fetcher.New(client, fetcher.Options{
		Pagination: pagination,
		PageSize:   cfg.Fetch.PageSize,
		MaxPages:   cfg.Fetch.MaxPages,
		MaxTrades:  cfg.Fetch.MaxTrades,
		Retry:      ledger.RetryPolicy{MaxRetries: cfg.Fetch.PageRetries},
	})
	agg := aggregator.New(aggregator.NewNormalizer(priceMap, aggregator.FeeRule{
		ThresholdFallback: cfg.Fees.ThresholdFallback,
		ThresholdRatio:    cfg.Fees.ThresholdRatio,
	}), precision)
	orch := scanner.New(loc, book, client, trades, agg, results, scanner.NewScanState(cfg.Scan.ZeroFeeStreak), scanner.Options{
		Workers:         cfg.Scan.NumWorkers,
		CheckpointEvery: cfg.Scan.CheckpointEvery,
		Skip:            cfg.Scan.SkipIDs,
		AddressRetry:    probeRetry,
	})

	utils.Logger.Infow("Starting discovery",
		"start_id", cfg.Scan.StartID,
		"locator", strategy,
		"pagination", pagination,
		"workers", cfg.Scan.NumWorkers,
		"zero_fee_streak", cfg.Scan.ZeroFeeStreak,
		"skip", len(cfg.Scan.SkipIDs))

	summary, err := orch.Run(ctx, cfg.Scan.StartID)
	logSummary(summary, results.Len(), fileSink.Path())
	if err != nil {
		if scanner.IsFatal(err) {
			utils.Error(err, "Scan aborted: ledger unreachable")
			return exitUnreachable
		}
		utils.Error(err, "Scan failed")
		return exitError
	}
	return exitOK
}

func logSummary(s scanner.Summary, stored int, path string) {
	fields := []interface{}{
		"range_start", s.Range.Start,
		"range_end", s.Range.End,
		"scanned", s.Scanned,
		"accounts_found", s.Found,
		"absent", s.Absent,
		"no_trades", s.NoTrades,
		"failed", s.Failed,
		"stored", stored,
		"out_file", path,
		"elapsed", s.Elapsed.Round(time.Millisecond).String(),
	}
	if s.BreakerFired {
		fields = append(fields, "breaker_fired_at", s.BreakerID, "discarded", s.Discarded)
	}
	if s.Interrupted {
		fields = append(fields, "interrupted", true)
	}
	utils.Logger.Infow("Scan finished", fields...)
}

func startMonitoring(ctx context.Context, addr string) {
	monitoring.StartMetricsCollection(ctx, 5*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", monitoring.HealthCheckHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           utils.RequestLogger(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utils.Error(err, "Metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
}

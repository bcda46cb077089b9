package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"spotter/internal/config"
	"spotter/internal/domain"
	"spotter/internal/gather/us"
	"spotter/internal/metrics"
	"spotter/internal/store"
	"spotter/internal/util"
)

func main() {
	symbolsFile := flag.String("symbols-file", "", "symbol list (overrides config; empty = brute-force discovery)")
	start := flag.String("start", "", "first date for new symbols, YYYY-MM-DD (overrides config)")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	job := cfg.Gather.USDaily
	if *symbolsFile != "" {
		job.SymbolsFile = *symbolsFile
	}
	if *start != "" {
		job.StartDate = *start
	}

	var symbols []string
	if job.SymbolsFile != "" {
		symbols, err = us.LoadSymbols(job.SymbolsFile)
		if err != nil {
			log.Fatalf("symbols: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	calendar := us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL)
	endDay := func(context.Context) (time.Time, error) {
		return us.LatestFinishedTradingDay(calendar, time.Now())
	}

	rec := metrics.New()
	gatherer := us.NewDailyBarGatherer(
		us.NewMarketDataClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		store.NewParquetStore(cfg.Storage.DataDir),
		endDay,
		us.DailyBarConfig{
			StartDate:       job.StartDate,
			Symbols:         symbols,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			ProgressDir:     filepath.Join(cfg.Storage.DataDir, string(domain.MarketUS), "daily"),
		},
		rec,
	)

	slog.Info("starting gather", "symbols", len(symbols), "start", job.StartDate)
	runErr := gatherer.Run(ctx)
	if path := cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			slog.Warn("writing metrics", "path", path, "err", err)
		}
	}
	if runErr != nil {
		log.Fatalf("gather: %v", runErr)
	}
}

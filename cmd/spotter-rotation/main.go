package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"spotter/internal/config"
	"spotter/internal/domain"
	"spotter/internal/engine"
	"spotter/internal/gather/us"
	"spotter/internal/metrics"
	"spotter/internal/store"
	"spotter/internal/util"
)

func main() {
	alloc := flag.String("alloc", "", "slot allocation, e.g. 3+2+1 (overrides config)")
	start := flag.String("start", "", "first trading date, YYYY-MM-DD (overrides config)")
	groupsFile := flag.String("groups", "", "symbol,group CSV (overrides config; default sqlite groups)")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	p := cfg.Rotation.Params
	if *alloc != "" {
		slots, err := parseAlloc(*alloc)
		if err != nil {
			log.Fatalf("-alloc: %v", err)
		}
		p.Alloc = slots
	}
	if *start != "" {
		p.StartDate = *start
	}
	if err := p.Validate(); err != nil {
		log.Fatalf("rotation params: %v", err)
	}
	if *groupsFile != "" {
		cfg.Rotation.ClassificationFile = *groupsFile
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	classification, err := loadClassification(ctx, cfg, db)
	if err != nil {
		log.Fatalf("classification: %v", err)
	}

	// RS percentiles rank against every stored symbol, not just the
	// classified ones.
	bars := store.NewParquetStore(cfg.Storage.DataDir)
	universe, err := bars.LoadUniverse(ctx, domain.MarketUS, store.UniverseOptions{
		Enrich:  true,
		Workers: cfg.Backtest.Workers,
	})
	if err != nil {
		log.Fatalf("loading universe: %v", err)
	}

	rec := metrics.New()
	started := time.Now()
	res, err := engine.NewEngine(rec).Run(ctx, universe, classification, p)
	if err != nil {
		log.Fatalf("rotation: %v", err)
	}
	printResult(res)

	if err := persist(ctx, db, bars, res, started); err != nil {
		log.Fatalf("saving results: %v", err)
	}
	if path := cfg.Metrics.Textfile; path != "" {
		if err := rec.WriteTextfile(path); err != nil {
			slog.Warn("writing metrics", "path", path, "err", err)
		}
	}
}

// parseAlloc reads "3+2+1" or "3,2,1".
func parseAlloc(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ',' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", f, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func loadClassification(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) (map[string]string, error) {
	if path := cfg.Rotation.ClassificationFile; path != "" {
		groups, rejected, err := us.LoadGroupsFile(path)
		if err != nil {
			return nil, err
		}
		for _, r := range rejected {
			slog.Warn("skipping classification row", "row", r.Index, "symbol", r.Key, "err", r.Err)
		}
		return groups, nil
	}
	return db.LoadGroups(ctx)
}

func printResult(res *engine.RotationResult) {
	perf := res.Performance
	fmt.Printf("alloc %s, RS %s >= %d, %d eligible instruments\n",
		res.Params.AllocString(), res.Params.RSPeriod, res.Params.Threshold, res.Eligible)
	if n := len(res.DailyValues); n > 0 {
		fmt.Printf("%s to %s (%.2f years)\n",
			res.DailyValues[0].Date.Format("2006-01-02"), res.DailyValues[n-1].Date.Format("2006-01-02"), perf.Years)
	}
	fmt.Printf("capital %.2f -> %.2f\n", perf.InitialCapital, perf.FinalValue)
	fmt.Printf("total return %.2f%%, CAGR %.2f%%, max drawdown %.2f%%\n",
		perf.TotalReturnPct, perf.CAGRPct, perf.MaxDrawdownPct)
	fmt.Printf("rotations %d, trades %d\n", perf.Rotations, len(res.Trades))
}

func persist(ctx context.Context, db *store.SQLiteStore, bars *store.ParquetStore, res *engine.RotationResult, started time.Time) error {
	paramsJSON, err := json.Marshal(res.Params)
	if err != nil {
		return err
	}
	summaryJSON, err := json.Marshal(res.Performance)
	if err != nil {
		return err
	}
	id, err := db.SaveRun(ctx, &store.Run{
		Kind:      store.RunRotation,
		Preset:    res.Params.AllocString(),
		Params:    string(paramsJSON),
		Summary:   string(summaryJSON),
		StartedAt: started,
		Duration:  time.Since(started),
	})
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	rows := store.RotationRows(res.Trades)
	if err := db.SaveTrades(ctx, id, rows); err != nil {
		return fmt.Errorf("saving trades: %w", err)
	}
	if err := db.SaveRotations(ctx, id, res.Rotations); err != nil {
		return fmt.Errorf("saving rotations: %w", err)
	}
	if err := db.SaveDailyValues(ctx, id, res.DailyValues); err != nil {
		return fmt.Errorf("saving daily values: %w", err)
	}

	name := fmt.Sprintf("rotation-%d", id)
	tradeLog, err := bars.WriteTradeLog(name, rows)
	if err != nil {
		return fmt.Errorf("writing trade log: %w", err)
	}
	curve, err := bars.WriteEquityCurve(name, res.DailyValues)
	if err != nil {
		return fmt.Errorf("writing equity curve: %w", err)
	}
	slog.Info("rotation saved", "run_id", id, "trade_log", tradeLog, "equity_curve", curve)
	fmt.Fprintf(os.Stdout, "run %d saved\n", id)
	return nil
}

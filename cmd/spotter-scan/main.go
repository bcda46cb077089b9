package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/robfig/cron/v3"

	"spotter/internal/config"
	"spotter/internal/domain"
	"spotter/internal/gather/us"
	"spotter/internal/metrics"
	"spotter/internal/scan"
	"spotter/internal/store"
	"spotter/internal/strategy"
	"spotter/internal/util"
)

func main() {
	once := flag.Bool("once", false, "scan once and exit instead of running on the cron schedule")
	date := flag.String("date", "", "scan as of YYYY-MM-DD (with -once; default today)")
	top := flag.Int("top", 20, "signals to print")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	p, err := cfg.StrategyParams(strategy.DefaultRegistry())
	if err != nil {
		log.Fatalf("strategy params: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	groups, err := loadGroups(ctx, cfg, db)
	if err != nil {
		log.Fatalf("groups: %v", err)
	}

	rec := metrics.New()
	scanner, err := scan.NewScanner(store.NewParquetStore(cfg.Storage.DataDir), db, p, scan.Config{
		Market:       domain.MarketUS,
		LookbackDays: cfg.Scan.LookbackDays,
		Groups:       groups,
		Benchmark:    cfg.Scan.Benchmark,
		Workers:      cfg.Backtest.Workers,
	}, rec)
	if err != nil {
		log.Fatalf("scanner: %v", err)
	}

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		log.Fatalf("loading ET timezone: %v", err)
	}

	runScan := func(day time.Time) error {
		rows, err := scanner.Scan(ctx, endOfDay(day))
		if err != nil {
			return err
		}
		printSignals(rows, *top)
		if path := cfg.Metrics.Textfile; path != "" {
			if err := rec.WriteTextfile(path); err != nil {
				slog.Warn("writing metrics", "path", path, "err", err)
			}
		}
		return nil
	}

	if *once {
		day := time.Now().In(et)
		if *date != "" {
			if day, err = time.Parse("2006-01-02", *date); err != nil {
				log.Fatalf("-date: %v", err)
			}
		}
		if err := runScan(day); err != nil {
			log.Fatalf("scan: %v", err)
		}
		return
	}

	c := cron.New(cron.WithSeconds(), cron.WithLocation(et))
	if _, err := c.AddFunc(cfg.Scan.Cron, func() {
		if err := runScan(time.Now().In(et)); err != nil {
			slog.Error("scheduled scan failed", "err", err)
		}
	}); err != nil {
		log.Fatalf("cron spec %q: %v", cfg.Scan.Cron, err)
	}
	c.Start()
	slog.Info("scan scheduler started", "cron", cfg.Scan.Cron)

	<-ctx.Done()
	slog.Info("shutting down, waiting for a running scan")
	<-c.Stop().Done()
}

// endOfDay returns the last instant of day's calendar date in UTC, so bars
// stamped at any hour of that date are included.
func endOfDay(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func loadGroups(ctx context.Context, cfg *config.Config, db *store.SQLiteStore) (map[string]string, error) {
	if path := cfg.Rotation.ClassificationFile; path != "" {
		groups, _, err := us.LoadGroupsFile(path)
		return groups, err
	}
	return db.LoadGroups(ctx)
}

var (
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	strongStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	fairStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 80:
		return strongStyle
	case score >= 60:
		return fairStyle
	default:
		return dimStyle
	}
}

func printSignals(rows []store.SignalRow, top int) {
	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("no breakouts"))
		return
	}
	fmt.Println(colHeaderStyle.Render(fmt.Sprintf("%-8s %-10s %5s %8s %7s %6s %6s",
		"symbol", "date", "score", "price", "vol x", "rise%", "days")))
	fmt.Println(colHeaderStyle.Render(strings.Repeat("-", 56)))
	for i, r := range rows {
		if i == top {
			fmt.Println(dimStyle.Render(fmt.Sprintf("... %d more", len(rows)-top)))
			break
		}
		fmt.Printf("%s %-10s %s %8.2f %7.2f %6.0f %6d\n",
			symbolStyle.Render(fmt.Sprintf("%-8s", r.Symbol)),
			r.Date.Format("2006-01-02"),
			scoreStyle(r.Score).Render(fmt.Sprintf("%5.0f", r.Score)),
			r.EntryPrice, r.VolumeRatio, r.RisePct, r.ConsolidationDays)
	}
}

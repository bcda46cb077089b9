package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"spotter/internal/config"
	"spotter/internal/domain"
	"spotter/internal/metrics"
	"spotter/internal/session"
	"spotter/internal/store"
	"spotter/internal/strategy"
	"spotter/internal/util"
)

func main() {
	preset := flag.String("preset", "", "parameter preset (overrides config)")
	start := flag.String("start", "", "first entry date, YYYY-MM-DD (overrides config)")
	symbols := flag.String("symbols", "", "comma-separated symbols (default: every stored symbol)")
	interactive := flag.Bool("interactive", false, "read parameter changes and run commands from stdin")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if *preset != "" {
		cfg.Backtest.Preset = *preset
	}
	p, err := cfg.StrategyParams(strategy.DefaultRegistry())
	if err != nil {
		log.Fatalf("strategy params: %v", err)
	}
	if *start != "" {
		p.StartDate = *start
		if err := p.Validate(); err != nil {
			log.Fatalf("strategy params: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	r := &runner{
		cfg:     cfg,
		preset:  cfg.Backtest.Preset,
		symbols: splitSymbols(*symbols),
		bars:    store.NewParquetStore(cfg.Storage.DataDir),
		db:      db,
		rec:     metrics.New(),
		out:     os.Stdout,
	}

	if *interactive {
		sess, err := session.NewStore(cfg.Backtest.SessionFile, p)
		if err != nil {
			log.Fatalf("session: %v", err)
		}
		if err := r.interactive(ctx, sess, os.Stdin); err != nil {
			log.Fatalf("interactive: %v", err)
		}
		return
	}

	if err := r.run(ctx, p); err != nil {
		log.Fatalf("backtest: %v", err)
	}
}

type runner struct {
	cfg     *config.Config
	preset  string
	symbols []string
	bars    *store.ParquetStore
	db      *store.SQLiteStore
	rec     *metrics.Recorder
	out     io.Writer

	universe map[string][]domain.Bar // loaded once, reused across interactive runs
	enriched bool
}

func splitSymbols(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// load reads the universe, with indicators when p uses the trend template.
func (r *runner) load(ctx context.Context, p strategy.Params) error {
	needEnrich := p.TrendTemplate != nil
	if r.universe != nil && (r.enriched || !needEnrich) {
		return nil
	}
	universe, err := r.bars.LoadUniverse(ctx, domain.MarketUS, store.UniverseOptions{
		Symbols: r.symbols,
		Enrich:  needEnrich,
		Workers: p.Workers,
	})
	if err != nil {
		return fmt.Errorf("loading universe: %w", err)
	}
	if len(universe) == 0 {
		return fmt.Errorf("no bars under %s", r.cfg.Storage.DataDir)
	}
	r.universe, r.enriched = universe, needEnrich
	return nil
}

// run backtests p, filters and classifies the trades, prints the report
// and persists the run.
func (r *runner) run(ctx context.Context, p strategy.Params) error {
	if err := r.load(ctx, p); err != nil {
		return err
	}
	started := time.Now()
	res, err := strategy.NewBacktester(r.rec).Run(ctx, r.universe, p)
	if err != nil {
		return err
	}

	traded := make([]string, 0)
	seen := make(map[string]bool)
	for _, t := range res.Trades {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			traded = append(traded, t.Symbol)
		}
	}
	sort.Strings(traded)

	caps, err := r.db.LoadMarketCaps(ctx, traded)
	if err != nil {
		return fmt.Errorf("loading market caps: %w", err)
	}
	minCap := r.cfg.Backtest.MarketCapMin
	if minCap <= 0 {
		minCap = strategy.DefaultMarketCapMin
	}
	kept, filter := strategy.FilterByMarketCap(res.Trades, caps, minCap)

	earnings, err := r.db.LoadEarnings(ctx, traded)
	if err != nil {
		return fmt.Errorf("loading earnings: %w", err)
	}
	strategy.ClassifyTrades(kept, earnings)

	rep := report{
		preset:  r.preset,
		params:  p,
		result:  res,
		filter:  filter,
		kept:    kept,
		caps:    len(caps) > 0,
		elapsed: time.Since(started),
	}
	rep.write(r.out)

	id, err := r.persist(ctx, p, rep, started)
	if err != nil {
		return err
	}
	slog.Info("backtest saved", "run_id", id, "trades", len(kept))

	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := r.rec.WriteTextfile(path); err != nil {
			slog.Warn("writing metrics", "path", path, "err", err)
		}
	}
	return nil
}

func (r *runner) persist(ctx context.Context, p strategy.Params, rep report, started time.Time) (int64, error) {
	trades := make([]domain.Trade, len(rep.kept))
	for i, t := range rep.kept {
		trades[i] = t.Trade
	}
	paramsJSON, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encoding params: %w", err)
	}
	summaryJSON, err := json.Marshal(strategy.Summarize(trades))
	if err != nil {
		return 0, fmt.Errorf("encoding summary: %w", err)
	}

	run := &store.Run{
		Kind:      store.RunBacktest,
		Preset:    r.preset,
		Params:    string(paramsJSON),
		Summary:   string(summaryJSON),
		StartedAt: started,
		Duration:  time.Since(started),
	}
	id, err := r.db.SaveRun(ctx, run)
	if err != nil {
		return 0, fmt.Errorf("saving run: %w", err)
	}
	rows := store.BacktestRows(trades)
	if err := r.db.SaveTrades(ctx, id, rows); err != nil {
		return id, fmt.Errorf("saving trades: %w", err)
	}
	path, err := r.bars.WriteTradeLog(fmt.Sprintf("backtest-%d", id), rows)
	if err != nil {
		return id, fmt.Errorf("writing trade log: %w", err)
	}
	fmt.Fprintf(r.out, "run %d saved, trade log %s\n", id, path)
	return id, nil
}

const helpText = `commands:
  show              print the current parameters
  keys              list settable keys
  set <key> <value> change one parameter
  reset             restore the starting parameters
  run               backtest with the current parameters
  quit
`

// interactive reads commands from in until EOF, quit or cancellation.
// Each run backtests the snapshot taken when it starts.
func (r *runner) interactive(ctx context.Context, sess *session.Store, in io.Reader) error {
	initial := sess.Snapshot()
	id, events := sess.Subscribe(8)
	defer sess.Unsubscribe(id)
	go func() {
		for e := range events {
			if e.Type == "set" {
				slog.Info("parameter changed", "key", e.Key, "value", e.Value)
			}
		}
	}()

	fmt.Fprint(r.out, helpText)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "show":
			writeParams(r.out, sess.Snapshot())
		case "keys":
			fmt.Fprintln(r.out, strings.Join(session.Keys(), "\n"))
		case "set":
			if len(fields) != 3 {
				fmt.Fprintln(r.out, "usage: set <key> <value>")
				continue
			}
			if err := sess.Set(fields[1], fields[2]); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		case "reset":
			if err := sess.Reset(initial); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		case "run":
			if err := r.run(ctx, sess.Snapshot()); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Fprint(r.out, helpText)
		}
	}
}

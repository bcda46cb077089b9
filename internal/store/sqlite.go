package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"spotter/internal/engine"
	"spotter/internal/pit"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ ResultStore = (*SQLiteStore)(nil)
var _ ReferenceStore = (*SQLiteStore)(nil)

const dateLayout = "2006-01-02"

// SQLiteStore implements ResultStore and ReferenceStore backed by a SQLite
// database.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, switches
// it to WAL mode and applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, log: slog.Default().With("component", "sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("sqlite store opened", "path", dbPath)
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT NOT NULL,
			preset      TEXT,
			params      TEXT,
			summary     TEXT,
			started_at  INTEGER NOT NULL,
			duration_ms INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      INTEGER NOT NULL REFERENCES runs(id),
			symbol      TEXT NOT NULL,
			grp         TEXT,
			rank_slot   INTEGER,
			entry_date  TEXT NOT NULL,
			entry_price REAL,
			exit_date   TEXT,
			exit_price  REAL,
			exit_reason TEXT,
			hold_days   INTEGER,
			peak_price  REAL,
			return_pct  REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id)`,

		`CREATE TABLE IF NOT EXISTS rotations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      INTEGER NOT NULL REFERENCES runs(id),
			date        TEXT NOT NULL,
			from_groups TEXT,
			to_groups   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rotations_run ON rotations(run_id)`,

		`CREATE TABLE IF NOT EXISTS daily_values (
			run_id INTEGER NOT NULL REFERENCES runs(id),
			date   TEXT NOT NULL,
			value  REAL,
			PRIMARY KEY (run_id, date)
		)`,

		`CREATE TABLE IF NOT EXISTS signals (
			scan_date          TEXT NOT NULL,
			symbol             TEXT NOT NULL,
			date               TEXT NOT NULL,
			entry_price        REAL,
			peak_price         REAL,
			rise_pct           REAL,
			consolidation_days INTEGER,
			volume_ratio       REAL,
			score              REAL,
			PRIMARY KEY (scan_date, symbol, date)
		)`,

		`CREATE TABLE IF NOT EXISTS market_caps (
			symbol TEXT NOT NULL,
			date   TEXT NOT NULL,
			value  REAL NOT NULL,
			PRIMARY KEY (symbol, date)
		)`,

		`CREATE TABLE IF NOT EXISTS earnings (
			symbol  TEXT NOT NULL,
			date    TEXT NOT NULL,
			eps     REAL,
			revenue REAL,
			PRIMARY KEY (symbol, date)
		)`,

		`CREATE TABLE IF NOT EXISTS symbol_groups (
			symbol TEXT PRIMARY KEY,
			grp    TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(40, len(stmt))], err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts run and returns its id.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(kind, preset, params, summary, started_at, duration_ms)
		VALUES (?,?,?,?,?,?)`,
		run.Kind, run.Preset, run.Params, run.Summary,
		run.StartedAt.Unix(), run.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	run.ID = id
	return id, nil
}

// GetRun loads a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id int64) (*Run, error) {
	var (
		run     Run
		started int64
		dur     int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, kind, preset, params, summary, started_at, duration_ms
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Kind, &run.Preset, &run.Params, &run.Summary, &started, &dur)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(started, 0).UTC()
	run.Duration = time.Duration(dur) * time.Millisecond
	return &run, nil
}

// SaveTrades inserts the trades of a run in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, runID int64, trades []TradeRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO trades
			(run_id, symbol, grp, rank_slot, entry_date, entry_price, exit_date, exit_price,
			 exit_reason, hold_days, peak_price, return_pct)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, t := range trades {
			if _, err := stmt.ExecContext(ctx,
				runID, t.Symbol, t.Group, t.RankSlot,
				t.EntryDate.Format(dateLayout), t.EntryPrice,
				t.ExitDate.Format(dateLayout), t.ExitPrice,
				string(t.ExitReason), t.HoldDays, t.PeakPrice, t.ReturnPct(),
			); err != nil {
				return fmt.Errorf("insert trade %s: %w", t.Symbol, err)
			}
		}
		return nil
	})
}

// CountTrades returns the number of trades stored for a run.
func (s *SQLiteStore) CountTrades(ctx context.Context, runID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// SaveRotations inserts the rotation log of a run.
func (s *SQLiteStore) SaveRotations(ctx context.Context, runID int64, rotations []engine.Rotation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rotations {
			if _, err := tx.ExecContext(ctx, `INSERT INTO rotations (run_id, date, from_groups, to_groups)
				VALUES (?,?,?,?)`,
				runID, r.Date.Format(dateLayout),
				strings.Join(r.Previous, ","), strings.Join(r.Current, ","),
			); err != nil {
				return fmt.Errorf("insert rotation: %w", err)
			}
		}
		return nil
	})
}

// SaveDailyValues inserts the equity curve of a run.
func (s *SQLiteStore) SaveDailyValues(ctx context.Context, runID int64, values []engine.DailyValue) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO daily_values (run_id, date, value) VALUES (?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, v := range values {
			if _, err := stmt.ExecContext(ctx, runID, v.Date.Format(dateLayout), v.Value); err != nil {
				return fmt.Errorf("insert daily value: %w", err)
			}
		}
		return nil
	})
}

// SaveSignals replaces the signals stored for scanDate.
func (s *SQLiteStore) SaveSignals(ctx context.Context, scanDate time.Time, signals []SignalRow) error {
	day := scanDate.Format(dateLayout)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM signals WHERE scan_date = ?`, day); err != nil {
			return err
		}
		for _, sig := range signals {
			if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO signals
				(scan_date, symbol, date, entry_price, peak_price, rise_pct,
				 consolidation_days, volume_ratio, score)
				VALUES (?,?,?,?,?,?,?,?,?)`,
				day, sig.Symbol, sig.Date.Format(dateLayout), sig.EntryPrice, sig.PeakPrice,
				sig.RisePct, sig.ConsolidationDays, sig.VolumeRatio, sig.Score,
			); err != nil {
				return fmt.Errorf("insert signal %s: %w", sig.Symbol, err)
			}
		}
		return nil
	})
}

// ListSignals returns the signals stored for scanDate, best score first.
func (s *SQLiteStore) ListSignals(ctx context.Context, scanDate time.Time) ([]SignalRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, date, entry_price, peak_price, rise_pct,
			consolidation_days, volume_ratio, score
		FROM signals WHERE scan_date = ? ORDER BY score DESC, symbol`, scanDate.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRow
	for rows.Next() {
		var (
			sig  SignalRow
			date string
		)
		if err := rows.Scan(&sig.Symbol, &date, &sig.EntryPrice, &sig.PeakPrice, &sig.RisePct,
			&sig.ConsolidationDays, &sig.VolumeRatio, &sig.Score); err != nil {
			return nil, err
		}
		if sig.Date, err = time.Parse(dateLayout, date); err != nil {
			return nil, fmt.Errorf("signal %s: %w", sig.Symbol, err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// ReferenceStore implementation
// ---------------------------------------------------------------------------

// UpsertMarketCaps writes market-cap observations. Rows without a symbol
// or date, or with a non-positive value, are skipped and reported in a
// *BatchError.
func (s *SQLiteStore) UpsertMarketCaps(ctx context.Context, rows []MarketCapRow) error {
	var rejected []RowError
	written := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO market_caps (symbol, date, value) VALUES (?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range rows {
			if err := checkRow(r.Symbol, r.Date); err != nil {
				rejected = append(rejected, RowError{Index: i, Key: r.Symbol, Err: err})
				continue
			}
			if r.Value <= 0 {
				rejected = append(rejected, RowError{Index: i, Key: r.Symbol, Err: fmt.Errorf("market cap %v", r.Value)})
				continue
			}
			if _, err := stmt.ExecContext(ctx, strings.ToUpper(r.Symbol), r.Date.Format(dateLayout), r.Value); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert market caps: %w", err)
	}
	return batchResult(written, rejected)
}

// LoadMarketCaps returns a point-in-time series per symbol. A nil symbols
// slice loads every symbol.
func (s *SQLiteStore) LoadMarketCaps(ctx context.Context, symbols []string) (map[string]pit.Series, error) {
	points := make(map[string][]pit.Point)
	err := s.queryBySymbol(ctx, `SELECT symbol, date, value FROM market_caps`, symbols, func(rows *sql.Rows) error {
		var (
			sym, date string
			value     float64
		)
		if err := rows.Scan(&sym, &date, &value); err != nil {
			return err
		}
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return fmt.Errorf("market cap %s: %w", sym, err)
		}
		points[sym] = append(points[sym], pit.Point{Date: t, Value: value})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load market caps: %w", err)
	}
	out := make(map[string]pit.Series, len(points))
	for sym, p := range points {
		out[sym] = pit.NewSeries(p)
	}
	return out, nil
}

// UpsertEarnings writes quarterly reports. Rows without a symbol or date
// are skipped and reported in a *BatchError.
func (s *SQLiteStore) UpsertEarnings(ctx context.Context, rows []EarningsRow) error {
	var rejected []RowError
	written := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO earnings (symbol, date, eps, revenue) VALUES (?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range rows {
			if err := checkRow(r.Symbol, r.Date); err != nil {
				rejected = append(rejected, RowError{Index: i, Key: r.Symbol, Err: err})
				continue
			}
			if _, err := stmt.ExecContext(ctx, strings.ToUpper(r.Symbol), r.Date.Format(dateLayout), r.EPS, r.Revenue); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert earnings: %w", err)
	}
	return batchResult(written, rejected)
}

// LoadEarnings returns each symbol's reports sorted by date.
func (s *SQLiteStore) LoadEarnings(ctx context.Context, symbols []string) (map[string][]pit.Earnings, error) {
	out := make(map[string][]pit.Earnings)
	err := s.queryBySymbol(ctx, `SELECT symbol, date, eps, revenue FROM earnings`, symbols, func(rows *sql.Rows) error {
		var (
			sym, date string
			e         pit.Earnings
		)
		if err := rows.Scan(&sym, &date, &e.EPS, &e.Revenue); err != nil {
			return err
		}
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return fmt.Errorf("earnings %s: %w", sym, err)
		}
		e.Date = t
		out[sym] = append(out[sym], e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load earnings: %w", err)
	}
	for _, records := range out {
		pit.SortEarnings(records)
	}
	return out, nil
}

// UpsertGroups assigns symbols to groups. Rows missing either field are
// skipped and reported in a *BatchError.
func (s *SQLiteStore) UpsertGroups(ctx context.Context, rows []GroupRow) error {
	var rejected []RowError
	written := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO symbol_groups (symbol, grp) VALUES (?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range rows {
			sym, grp := strings.TrimSpace(r.Symbol), strings.TrimSpace(r.Group)
			if sym == "" || grp == "" {
				rejected = append(rejected, RowError{Index: i, Key: sym, Err: errors.New("missing symbol or group")})
				continue
			}
			if _, err := stmt.ExecContext(ctx, strings.ToUpper(sym), grp); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert groups: %w", err)
	}
	return batchResult(written, rejected)
}

// LoadGroups returns the symbol to group map.
func (s *SQLiteStore) LoadGroups(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := s.queryBySymbol(ctx, `SELECT symbol, grp FROM symbol_groups`, nil, func(rows *sql.Rows) error {
		var sym, grp string
		if err := rows.Scan(&sym, &grp); err != nil {
			return err
		}
		out[sym] = grp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// queryBySymbol runs base, restricted to symbols when non-empty, and calls
// scan for every row.
func (s *SQLiteStore) queryBySymbol(ctx context.Context, base string, symbols []string, scan func(*sql.Rows) error) error {
	query := base
	args := make([]any, 0, len(symbols))
	if len(symbols) > 0 {
		upper := make([]string, len(symbols))
		for i, sym := range symbols {
			upper[i] = strings.ToUpper(sym)
		}
		sort.Strings(upper)
		query += " WHERE symbol IN (" + strings.TrimSuffix(strings.Repeat("?,", len(upper)), ",") + ")"
		for _, sym := range upper {
			args = append(args, sym)
		}
	}
	query += " ORDER BY symbol"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func checkRow(symbol string, date time.Time) error {
	if strings.TrimSpace(symbol) == "" {
		return errors.New("missing symbol")
	}
	if date.IsZero() {
		return errors.New("missing date")
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"spotter/internal/domain"
	"spotter/internal/engine"
	"spotter/internal/pit"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	t.Cleanup(func() {
		if cerr := s.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	})
	return s
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openSQLite(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	// Migrations are idempotent.
	if err := s.migrate(); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	run := &Run{Kind: RunBacktest, Preset: "v3", Params: `{"stop_loss_pct":7}`, Summary: `{}`, StartedAt: day(2024, 5, 1), Duration: 1500 * time.Millisecond}
	id, err := s.SaveRun(ctx, run)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if id == 0 || run.ID != id {
		t.Errorf("SaveRun id = %d, run.ID = %d", id, run.ID)
	}

	got, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Preset != "v3" || got.Duration != 1500*time.Millisecond || !got.StartedAt.Equal(run.StartedAt) {
		t.Errorf("GetRun = %+v", got)
	}

	if _, err := s.GetRun(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) err = %v, want %v", err, ErrNotFound)
	}

	trades := BacktestRows([]domain.Trade{
		{Symbol: "AAA", EntryDate: day(2024, 1, 2), EntryPrice: 10, ExitDate: day(2024, 1, 9), ExitPrice: 9.3, ExitReason: domain.ExitStopLoss, HoldDays: 5, PeakPrice: 10},
		{Symbol: "BBB", EntryDate: day(2024, 2, 2), EntryPrice: 20, ExitDate: day(2024, 3, 1), ExitPrice: 25, ExitReason: domain.ExitOpen, HoldDays: 19, PeakPrice: 26},
	})
	if err := s.SaveTrades(ctx, id, trades); err != nil {
		t.Fatalf("SaveTrades: %v", err)
	}
	if n, err := s.CountTrades(ctx, id); err != nil || n != 2 {
		t.Errorf("CountTrades = %d, %v; want 2", n, err)
	}
}

func TestSQLiteStoreRotationOutput(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	id, err := s.SaveRun(ctx, &Run{Kind: RunRotation, StartedAt: day(2024, 5, 1)})
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	rotations := []engine.Rotation{
		{Date: day(2024, 1, 2), Current: []string{"TECH", "ENERGY"}},
		{Date: day(2024, 1, 9), Previous: []string{"TECH", "ENERGY"}, Current: []string{"ENERGY", "TECH"}},
	}
	if err := s.SaveRotations(ctx, id, rotations); err != nil {
		t.Fatalf("SaveRotations: %v", err)
	}
	values := []engine.DailyValue{{Date: day(2024, 1, 2), Value: 1000}, {Date: day(2024, 1, 3), Value: 1010}}
	if err := s.SaveDailyValues(ctx, id, values); err != nil {
		t.Fatalf("SaveDailyValues: %v", err)
	}

	var to string
	if err := s.db.QueryRow(`SELECT to_groups FROM rotations WHERE run_id = ? ORDER BY id DESC LIMIT 1`, id).Scan(&to); err != nil {
		t.Fatalf("query rotations: %v", err)
	}
	if to != "ENERGY,TECH" {
		t.Errorf("to_groups = %q, want ENERGY,TECH", to)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM daily_values WHERE run_id = ?`, id).Scan(&n); err != nil || n != 2 {
		t.Errorf("daily_values count = %d, %v; want 2", n, err)
	}
}

func TestSQLiteStoreSignals(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	scan := day(2024, 6, 3)

	first := []SignalRow{
		{Signal: domain.Signal{Symbol: "AAA", Date: day(2024, 5, 31), EntryPrice: 21, PeakPrice: 20, RisePct: 100, ConsolidationDays: 16, VolumeRatio: 3}, Score: 55},
		{Signal: domain.Signal{Symbol: "BBB", Date: day(2024, 6, 3), EntryPrice: 50, PeakPrice: 48, RisePct: 150, ConsolidationDays: 30, VolumeRatio: 2.5}, Score: 70},
	}
	if err := s.SaveSignals(ctx, scan, first); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}
	got, err := s.ListSignals(ctx, scan)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 2 || got[0].Symbol != "BBB" || got[1].ConsolidationDays != 16 {
		t.Errorf("ListSignals = %+v, want BBB first", got)
	}

	// Re-running a scan replaces its signals.
	if err := s.SaveSignals(ctx, scan, first[:1]); err != nil {
		t.Fatalf("SaveSignals: %v", err)
	}
	if got, _ := s.ListSignals(ctx, scan); len(got) != 1 {
		t.Errorf("ListSignals after rescan = %d rows, want 1", len(got))
	}
}

func TestSQLiteStoreMarketCaps(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	rows := []MarketCapRow{
		{Symbol: "aaa", Date: day(2024, 1, 1), Value: 2e9},
		{Symbol: "AAA", Date: day(2024, 4, 1), Value: 3e9},
		{Symbol: "", Date: day(2024, 1, 1), Value: 1e9},
		{Symbol: "BBB", Date: day(2024, 1, 1), Value: -5},
		{Symbol: "BBB", Date: day(2024, 1, 1), Value: 5e8},
	}
	err := s.UpsertMarketCaps(ctx, rows)
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("UpsertMarketCaps err = %v, want *BatchError", err)
	}
	if batch.Written != 3 || len(batch.Rows) != 2 || batch.Rows[0].Index != 2 {
		t.Errorf("BatchError = %+v", batch)
	}

	caps, err := s.LoadMarketCaps(ctx, []string{"AAA"})
	if err != nil {
		t.Fatalf("LoadMarketCaps: %v", err)
	}
	if len(caps) != 1 {
		t.Fatalf("LoadMarketCaps returned %d symbols, want 1", len(caps))
	}
	if v, ok := caps["AAA"].AsOf(day(2024, 3, 1)); !ok || v != 2e9 {
		t.Errorf("AAA AsOf(Mar) = %v, %v; want 2e9", v, ok)
	}

	all, err := s.LoadMarketCaps(ctx, nil)
	if err != nil || len(all) != 2 {
		t.Errorf("LoadMarketCaps(all) = %d symbols, %v; want 2", len(all), err)
	}
}

func TestSQLiteStoreEarningsAndGroups(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	earnings := []EarningsRow{
		{Symbol: "AAA", Earnings: pit.Earnings{Date: day(2024, 4, 30), EPS: 1.2, Revenue: 120}},
		{Symbol: "AAA", Earnings: pit.Earnings{Date: day(2024, 1, 30), EPS: 1.0, Revenue: 100}},
	}
	if err := s.UpsertEarnings(ctx, earnings); err != nil {
		t.Fatalf("UpsertEarnings: %v", err)
	}
	got, err := s.LoadEarnings(ctx, nil)
	if err != nil {
		t.Fatalf("LoadEarnings: %v", err)
	}
	if len(got["AAA"]) != 2 || !got["AAA"][0].Date.Equal(day(2024, 1, 30)) {
		t.Errorf("LoadEarnings = %+v, want two reports oldest first", got)
	}

	err = s.UpsertGroups(ctx, []GroupRow{{Symbol: "aaa", Group: "Semiconductors"}, {Symbol: "BBB"}})
	var batch *BatchError
	if !errors.As(err, &batch) || batch.Written != 1 {
		t.Fatalf("UpsertGroups err = %v, want one row rejected", err)
	}
	groups, err := s.LoadGroups(ctx)
	if err != nil {
		t.Fatalf("LoadGroups: %v", err)
	}
	if len(groups) != 1 || groups["AAA"] != "Semiconductors" {
		t.Errorf("LoadGroups = %v", groups)
	}
}

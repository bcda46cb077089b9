package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"spotter/internal/config"
	"spotter/internal/gather/us"
	"spotter/internal/store"
	"spotter/internal/util"
)

func main() {
	groupsFile := flag.String("groups", "", "symbol,group CSV")
	capsFile := flag.String("market-caps", "", "symbol,date,market_cap CSV")
	earningsFile := flag.String("earnings", "", "symbol,date,eps,revenue CSV")
	flag.Parse()

	if *groupsFile == "" && *capsFile == "" && *earningsFile == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite: %v", err)
	}
	defer db.Close()

	if *groupsFile != "" {
		err := importFile(ctx, *groupsFile, func(r io.Reader) (int, []store.RowError, error) {
			rows, rejected, err := us.ReadGroups(r)
			if err != nil {
				return 0, rejected, err
			}
			return len(rows), rejected, db.UpsertGroups(ctx, rows)
		})
		if err != nil {
			log.Fatalf("groups: %v", err)
		}
	}
	if *capsFile != "" {
		err := importFile(ctx, *capsFile, func(r io.Reader) (int, []store.RowError, error) {
			rows, rejected, err := us.ReadMarketCaps(r)
			if err != nil {
				return 0, rejected, err
			}
			return len(rows), rejected, db.UpsertMarketCaps(ctx, rows)
		})
		if err != nil {
			log.Fatalf("market caps: %v", err)
		}
	}
	if *earningsFile != "" {
		err := importFile(ctx, *earningsFile, func(r io.Reader) (int, []store.RowError, error) {
			rows, rejected, err := us.ReadEarnings(r)
			if err != nil {
				return 0, rejected, err
			}
			return len(rows), rejected, db.UpsertEarnings(ctx, rows)
		})
		if err != nil {
			log.Fatalf("earnings: %v", err)
		}
	}
}

// importFile parses and upserts one CSV. Rows rejected by the parser or by
// the store are logged; only file, parse and database failures are fatal.
func importFile(ctx context.Context, path string, load func(io.Reader) (int, []store.RowError, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	parsed, rejected, err := load(f)
	var batch *store.BatchError
	if errors.As(err, &batch) {
		rejected = append(rejected, batch.Rows...)
		err = nil
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, r := range rejected {
		slog.Warn("row rejected", "file", path, "row", r.Index, "symbol", r.Key, "err", r.Err)
	}
	slog.Info("imported", "file", path, "rows", parsed, "rejected", len(rejected))
	return nil
}

package us

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"spotter/internal/pit"
	"spotter/internal/store"
)

// ErrMissingColumn is returned when a reference CSV lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// columns maps lower-cased header names to their index.
type columns map[string]int

func readHeader(r *csv.Reader) (columns, error) {
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(columns, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols, nil
}

// index returns the first of names present in the header.
func (c columns) index(names ...string) (int, error) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(names, " or "))
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// eachRecord calls fn for every data row. Row numbers start at 1 for the
// first row after the header. A row fn rejects is collected, not fatal.
func eachRecord(r *csv.Reader, fn func(rec []string) (key string, err error)) ([]store.RowError, error) {
	var rejected []store.RowError
	for row := 1; ; row++ {
		rec, err := r.Read()
		if err == io.EOF {
			return rejected, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rejected = append(rejected, store.RowError{Index: row, Err: err})
				continue
			}
			return rejected, err
		}
		if key, err := fn(rec); err != nil {
			rejected = append(rejected, store.RowError{Index: row, Key: key, Err: err})
		}
	}
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ReadGroups parses a symbol,group CSV. The group column may also be named
// industry or sector.
func ReadGroups(r io.Reader) ([]store.GroupRow, []store.RowError, error) {
	cr := newReader(r)
	cols, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	si, err := cols.index("symbol", "ticker")
	if err != nil {
		return nil, nil, err
	}
	gi, err := cols.index("group", "industry", "sector")
	if err != nil {
		return nil, nil, err
	}

	var rows []store.GroupRow
	rejected, err := eachRecord(cr, func(rec []string) (string, error) {
		sym, group := strings.ToUpper(field(rec, si)), field(rec, gi)
		if sym == "" || group == "" {
			return sym, errors.New("empty symbol or group")
		}
		rows = append(rows, store.GroupRow{Symbol: sym, Group: group})
		return sym, nil
	})
	return rows, rejected, err
}

// ReadMarketCaps parses a symbol,date,market_cap CSV.
func ReadMarketCaps(r io.Reader) ([]store.MarketCapRow, []store.RowError, error) {
	cr := newReader(r)
	cols, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	si, err := cols.index("symbol", "ticker")
	if err != nil {
		return nil, nil, err
	}
	di, err := cols.index("date")
	if err != nil {
		return nil, nil, err
	}
	vi, err := cols.index("market_cap", "marketcap", "value")
	if err != nil {
		return nil, nil, err
	}

	var rows []store.MarketCapRow
	rejected, err := eachRecord(cr, func(rec []string) (string, error) {
		sym := strings.ToUpper(field(rec, si))
		d, err := time.Parse("2006-01-02", field(rec, di))
		if err != nil {
			return sym, fmt.Errorf("date: %w", err)
		}
		v, err := strconv.ParseFloat(field(rec, vi), 64)
		if err != nil {
			return sym, fmt.Errorf("market cap: %w", err)
		}
		rows = append(rows, store.MarketCapRow{Symbol: sym, Date: d, Value: v})
		return sym, nil
	})
	return rows, rejected, err
}

// ReadEarnings parses a symbol,date,eps[,revenue] CSV of quarterly reports.
// date is the report (availability) date.
func ReadEarnings(r io.Reader) ([]store.EarningsRow, []store.RowError, error) {
	cr := newReader(r)
	cols, err := readHeader(cr)
	if err != nil {
		return nil, nil, err
	}
	si, err := cols.index("symbol", "ticker")
	if err != nil {
		return nil, nil, err
	}
	di, err := cols.index("date", "report_date")
	if err != nil {
		return nil, nil, err
	}
	ei, err := cols.index("eps")
	if err != nil {
		return nil, nil, err
	}
	ri, revErr := cols.index("revenue")

	var rows []store.EarningsRow
	rejected, err := eachRecord(cr, func(rec []string) (string, error) {
		sym := strings.ToUpper(field(rec, si))
		d, err := time.Parse("2006-01-02", field(rec, di))
		if err != nil {
			return sym, fmt.Errorf("date: %w", err)
		}
		eps, err := strconv.ParseFloat(field(rec, ei), 64)
		if err != nil {
			return sym, fmt.Errorf("eps: %w", err)
		}
		var rev float64
		if revErr == nil && field(rec, ri) != "" {
			if rev, err = strconv.ParseFloat(field(rec, ri), 64); err != nil {
				return sym, fmt.Errorf("revenue: %w", err)
			}
		}
		rows = append(rows, store.EarningsRow{Symbol: sym, Earnings: pit.Earnings{Date: d, EPS: eps, Revenue: rev}})
		return sym, nil
	})
	return rows, rejected, err
}

// LoadGroupsFile reads a symbol,group CSV into a symbol to group map.
// Rejected rows are returned alongside.
func LoadGroupsFile(path string) (map[string]string, []store.RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening groups file: %w", err)
	}
	defer f.Close()

	rows, rejected, err := ReadGroups(f)
	if err != nil {
		return nil, rejected, fmt.Errorf("reading %s: %w", path, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Symbol] = r.Group
	}
	return out, rejected, nil
}

package us

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// GenerateBruteSymbols returns all A-Z combinations of lengths 1 through 4,
// used to discover the listed universe when no symbol list is configured.
func GenerateBruteSymbols() []string {
	symbols := make([]string, 0, 26+26*26+26*26*26+26*26*26*26)
	var buf [4]byte
	var walk func(depth int)
	walk = func(depth int) {
		for c := byte('A'); c <= 'Z'; c++ {
			buf[depth] = c
			symbols = append(symbols, string(buf[:depth+1]))
			if depth < 3 {
				walk(depth + 1)
			}
		}
	}
	walk(0)
	return symbols
}

// LoadSymbols reads a symbol list. Each line holds one symbol, optionally
// followed by comma-separated columns; blank lines, lines starting with #
// and a "symbol" header are skipped. The result is uppercased, deduplicated
// and sorted.
func LoadSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening symbols file %s: %w", path, err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sym, _, _ := strings.Cut(line, ",")
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || sym == "SYMBOL" {
			continue
		}
		seen[sym] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading symbols file %s: %w", path, err)
	}

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

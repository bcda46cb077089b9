package us

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	emptyFile     = ".tried-empty"
	completedFile = ".last-completed"
)

// progressTracker remembers, per gathering day, which symbols returned no
// bars and the last day a pass finished, so an interrupted pass resumes
// and a finished one is not repeated.
type progressTracker struct {
	mu     sync.Mutex
	dir    string
	empty  map[string]struct{}
	file   *os.File
	writer *bufio.Writer
}

func newProgressTracker(dir string) (*progressTracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress dir: %w", err)
	}
	pt := &progressTracker{dir: dir, empty: make(map[string]struct{})}

	if data, err := os.ReadFile(pt.path(emptyFile)); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			if sym := strings.TrimSpace(line); sym != "" {
				pt.empty[sym] = struct{}{}
			}
		}
	}
	if err := pt.open(); err != nil {
		return nil, err
	}
	return pt, nil
}

func (p *progressTracker) path(name string) string {
	return filepath.Join(p.dir, name)
}

func (p *progressTracker) open() error {
	f, err := os.OpenFile(p.path(emptyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", emptyFile, err)
	}
	p.file = f
	p.writer = bufio.NewWriter(f)
	return nil
}

// IsTriedEmpty reports whether symbol already came back empty.
func (p *progressTracker) IsTriedEmpty(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[symbol]
	return ok
}

// MarkEmpty appends symbols that returned no bars.
func (p *progressTracker) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sym := range symbols {
		if _, ok := p.empty[sym]; ok {
			continue
		}
		p.empty[sym] = struct{}{}
		if _, err := p.writer.WriteString(sym + "\n"); err != nil {
			return fmt.Errorf("writing %s: %w", emptyFile, err)
		}
	}
	return p.writer.Flush()
}

// LastCompleted returns the last finished gathering day, or the zero time.
func (p *progressTracker) LastCompleted() time.Time {
	data, err := os.ReadFile(p.path(completedFile))
	if err != nil {
		return time.Time{}
	}
	d, err := time.Parse("2006-01-02", strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}
	}
	return d
}

// MarkCompleted records day as finished.
func (p *progressTracker) MarkCompleted(day time.Time) error {
	return os.WriteFile(p.path(completedFile), []byte(day.Format("2006-01-02")), 0o644)
}

// Reset forgets the empty symbols of a previous day.
func (p *progressTracker) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file != nil {
		p.file.Close()
	}
	p.empty = make(map[string]struct{})
	if err := os.Remove(p.path(emptyFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", emptyFile, err)
	}
	return p.open()
}

// Close flushes and closes the empty-symbol file.
func (p *progressTracker) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writer != nil {
		p.writer.Flush()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

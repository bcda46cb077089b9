// Package session holds the strategy parameters of an interactive backtest
// session with JSON persistence and change notification. Every change swaps
// in a new snapshot, so a backtest holding an older one is never affected.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"spotter/internal/strategy"
)

// ErrUnknownKey is returned by Set for a key that names no parameter.
var ErrUnknownKey = errors.New("unknown parameter")

// Event is published to subscribers after every change.
type Event struct {
	Type   string          `json:"type"`            // "snapshot", "set", "reset"
	Key    string          `json:"key,omitempty"`   // set only
	Value  string          `json:"value,omitempty"` // set only
	Params strategy.Params `json:"params"`
}

// Store holds the current parameter snapshot.
type Store struct {
	mu       sync.RWMutex
	params   strategy.Params
	filePath string
	log      *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
}

// NewStore creates a Store starting from initial, or from the snapshot
// persisted at filePath when one exists and validates. An empty filePath
// disables persistence.
func NewStore(filePath string, initial strategy.Params) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{
		params:   initial.Clone(),
		filePath: filePath,
		log:      slog.Default().With("component", "session"),
		subs:     make(map[int]chan Event),
	}
	s.load()
	return s, nil
}

// Snapshot returns a copy of the current parameters.
func (s *Store) Snapshot() strategy.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Clone()
}

// Set changes one parameter. Keys are the yaml names, with a dot for
// nested fields ("trend_template.min_rs"). The change is validated on a
// copy and only swapped in if the whole parameter set is still valid.
func (s *Store) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if !slices.Contains(Keys(), key) {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}

	s.mu.Lock()
	next := s.params.Clone()
	if err := assign(&next, key, strings.TrimSpace(value)); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.params = next
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "set", Key: key, Value: value, Params: next.Clone()})
	return nil
}

// Reset replaces the whole snapshot, typically with a preset.
func (s *Store) Reset(p strategy.Params) error {
	p = p.Clone()
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.flush()
	s.mu.Unlock()

	s.broadcast(Event{Type: "reset", Params: p.Clone()})
	return nil
}

// Subscribe returns a channel that receives events, starting with the
// current snapshot. Slow consumers have events dropped.
func (s *Store) Subscribe(bufSize int) (int, <-chan Event) {
	ch := make(chan Event, max(bufSize, 1))
	ch <- Event{Type: "snapshot", Params: s.Snapshot()}

	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *Store) broadcast(e Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// load replaces the initial snapshot with the persisted one if it is valid.
func (s *Store) load() {
	if s.filePath == "" {
		return
	}
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return
	}
	var loaded strategy.Params
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.log.Warn("loading session file", "path", s.filePath, "error", err)
		return
	}
	if err := loaded.Validate(); err != nil {
		s.log.Warn("ignoring invalid session file", "path", s.filePath, "error", err)
		return
	}
	s.params = loaded
	s.log.Info("loaded session", "path", s.filePath)
}

// flush writes the snapshot to disk. Must be called with mu held.
func (s *Store) flush() {
	if s.filePath == "" {
		return
	}
	data, err := json.MarshalIndent(s.params, "", "  ")
	if err != nil {
		s.log.Error("marshalling session", "error", err)
		return
	}
	if err := os.WriteFile(s.filePath, data, 0644); err != nil {
		s.log.Error("writing session file", "path", s.filePath, "error", err)
	}
}

// assign decodes value into the field named by key through a one-entry
// YAML document, so the field's own type drives parsing.
func assign(p *strategy.Params, key, value string) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	node := root
	parts := strings.Split(key, ".")
	for i, part := range parts {
		k := &yaml.Node{Kind: yaml.ScalarNode, Value: part}
		if i == len(parts)-1 {
			node.Content = append(node.Content, k, &yaml.Node{Kind: yaml.ScalarNode, Value: value})
			break
		}
		child := &yaml.Node{Kind: yaml.MappingNode}
		node.Content = append(node.Content, k, child)
		node = child
	}
	if err := root.Decode(p); err != nil {
		return fmt.Errorf("%w: %s=%q: %v", strategy.ErrInvalidParams, key, value, err)
	}
	return nil
}

var (
	keysOnce sync.Once
	keys     []string
)

// Keys lists every settable parameter name, sorted.
func Keys() []string {
	keysOnce.Do(func() {
		p := strategy.Params{TrendTemplate: &strategy.TrendTemplate{}}
		data, err := yaml.Marshal(p)
		if err != nil {
			return
		}
		var m map[string]any
		if err := yaml.Unmarshal(data, &m); err != nil {
			return
		}
		keys = flatten("", m)
		sort.Strings(keys)
	})
	return slices.Clone(keys)
}

func flatten(prefix string, m map[string]any) []string {
	var out []string
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out = append(out, flatten(prefix+k+".", nested)...)
			continue
		}
		out = append(out, prefix+k)
	}
	return out
}

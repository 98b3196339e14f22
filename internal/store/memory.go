package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hostpanel/pkg/plugin"
)

type stateRecord struct {
	ID      string         `json:"id"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config"`
}

// MemoryStore keeps plugin state in memory, optionally backed by an
// append-only JSON line log so dev deployments survive restarts. On load,
// later lines win.
type MemoryStore struct {
	mu       sync.RWMutex
	dataFile string
	states   map[string]plugin.State
}

// NewMemoryStore creates a store persisting under dataDir. An empty dataDir
// keeps everything in memory only.
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	s := &MemoryStore{states: make(map[string]plugin.State)}
	if dataDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s.dataFile = filepath.Join(dataDir, "plugin_state.log")
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get implements plugin.StateStore.
func (s *MemoryStore) Get(_ context.Context, id string) (plugin.State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return plugin.State{}, false, nil
	}
	return plugin.State{Enabled: state.Enabled, Config: cloneConfig(state.Config)}, true, nil
}

// Save implements plugin.StateStore.
func (s *MemoryStore) Save(_ context.Context, id string, state plugin.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = plugin.State{Enabled: state.Enabled, Config: cloneConfig(state.Config)}
	if s.dataFile == "" {
		return nil
	}
	file, err := os.OpenFile(s.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open state log: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(stateRecord{ID: id, Enabled: state.Enabled, Config: state.Config})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("append state record: %w", err)
	}
	return nil
}

func (s *MemoryStore) loadFromDisk() error {
	file, err := os.OpenFile(s.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open state log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record stateRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		s.states[record.ID] = plugin.State{Enabled: record.Enabled, Config: record.Config}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan state log: %w", err)
	}
	return nil
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}

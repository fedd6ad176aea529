package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
)

// SnapshotVersion is written into every snapshot.
const SnapshotVersion = "1"

// ErrVersionMismatch is returned when a snapshot was written by an incompatible version.
var ErrVersionMismatch = errors.New("state snapshot version mismatch")

// Config locates the snapshot file.
type Config struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"data/state.json"`
	// MaxHistory caps how many closed trades are persisted.
	MaxHistory int `yaml:"max_history" default:"1000" validate:"gte=0"`
}

// Snapshot is the recoverable state of one bot: risk engine state
// (open positions and the daily-loss ledger) plus the closed trade journal.
type Snapshot struct {
	Version string                  `json:"version"`
	SavedAt time.Time               `json:"saved_at"`
	Risk    risk.State              `json:"risk"`
	History []execution.ClosedTrade `json:"history"`
}

// Positions returns the open positions sorted by symbol.
func (s *Snapshot) Positions() []risk.Position {
	out := make([]risk.Position, 0, len(s.Risk.OpenPositions))
	for _, p := range s.Risk.OpenPositions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Store saves snapshots to a JSON file. Writes go to a temp file that is
// renamed over the target, and the previous file is kept as a backup.
type Store struct {
	mu         sync.Mutex
	path       string
	maxHistory int
	log        *logger.Logger
	now        func() time.Time
}

// NewStore creates a store writing to cfg.Path.
func NewStore(cfg Config, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Nop()
	}
	path := cfg.Path
	if path == "" {
		path = "data/state.json"
	}
	return &Store{
		path:       path,
		maxHistory: cfg.MaxHistory,
		log:        log,
		now:        time.Now,
	}
}

// Path is the snapshot location.
func (s *Store) Path() string {
	return s.path
}

// BackupPath is where the previous snapshot is copied before each save.
func (s *Store) BackupPath() string {
	ext := filepath.Ext(s.path)
	return s.path[:len(s.path)-len(ext)] + "_backup" + ext
}

// Save writes snap atomically.
func (s *Store) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = SnapshotVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now().UTC()
	}
	if s.maxHistory > 0 && len(snap.History) > s.maxHistory {
		snap.History = snap.History[len(snap.History)-s.maxHistory:]
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.BackupPath()); err != nil {
			s.log.Warning("failed to back up state file: %v", err)
		}
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}

	s.log.Debug("state saved to %s (%d positions, %d trades)", s.path, len(snap.Risk.OpenPositions), len(snap.History))
	return nil
}

// Load reads the snapshot. A missing file yields (nil, nil). When the main
// file is unreadable the backup is tried before giving up.
func (s *Store) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := readSnapshot(s.path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		if err != nil {
			s.log.Info("no state file at %s, starting clean", s.path)
			return nil, nil
		}
		return snap, nil
	}

	s.log.Warning("state file %s unusable (%v), trying backup", s.path, err)
	backup, backupErr := readSnapshot(s.BackupPath())
	if backupErr != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return backup, nil
}

func readSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: got %q", ErrVersionMismatch, snap.Version)
	}
	if snap.Risk.OpenPositions == nil {
		snap.Risk.OpenPositions = make(map[string]risk.Position)
	}
	return &snap, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

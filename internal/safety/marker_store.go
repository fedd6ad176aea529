package safety

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Marker is the durable record of an active kill switch.
type Marker struct {
	TriggeredAt time.Time
	Reason      string
	Source      string
}

// MarkerStore persists the kill marker outside process memory.
type MarkerStore interface {
	// Load returns nil when no marker exists.
	Load(ctx context.Context) (*Marker, error)
	// Create writes m only when no marker exists and reports whether it did.
	Create(ctx context.Context, m Marker) (bool, error)
	// Remove deletes the marker. Removing a missing marker is not an error.
	Remove(ctx context.Context) error
}

// encodeMarker renders "timestamp\nreason\nsource\n".
func encodeMarker(m Marker) string {
	reason := strings.ReplaceAll(m.Reason, "\n", " ")
	return fmt.Sprintf("%s\n%s\n%s\n", m.TriggeredAt.UTC().Format(time.RFC3339Nano), reason, m.Source)
}

// decodeMarker accepts partial content: an empty marker created by hand is still a marker.
func decodeMarker(content string) Marker {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	var m Marker
	if len(lines) > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(lines[0])); err == nil {
			m.TriggeredAt = ts
		}
	}
	if len(lines) > 1 {
		m.Reason = strings.TrimSpace(lines[1])
	}
	if len(lines) > 2 {
		m.Source = strings.TrimSpace(lines[2])
	}
	if m.Reason == "" {
		m.Reason = "kill marker present"
	}
	if m.Source == "" {
		m.Source = "manual"
	}
	return m
}

// DefaultMarkerPath returns ~/.vayu/KILL.
func DefaultMarkerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vayu", "KILL")
}

// FileMarkerStore keeps the marker as a file. Creating the file by hand halts the bot.
type FileMarkerStore struct {
	path string
}

func NewFileMarkerStore(path string) *FileMarkerStore {
	if path == "" {
		path = DefaultMarkerPath()
	}
	return &FileMarkerStore{path: path}
}

func (s *FileMarkerStore) Path() string {
	return s.path
}

func (s *FileMarkerStore) Load(_ context.Context) (*Marker, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read kill marker %s: %w", s.path, err)
	}
	m := decodeMarker(string(data))
	if m.TriggeredAt.IsZero() {
		if info, statErr := os.Stat(s.path); statErr == nil {
			m.TriggeredAt = info.ModTime()
		}
	}
	return &m, nil
}

func (s *FileMarkerStore) Create(_ context.Context, m Marker) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return false, fmt.Errorf("failed to create marker directory: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create kill marker: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(encodeMarker(m)); err != nil {
		return true, fmt.Errorf("failed to write kill marker: %w", err)
	}
	return true, file.Sync()
}

func (s *FileMarkerStore) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove kill marker: %w", err)
	}
	return nil
}

type redisMarkerClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisConfig locates the shared kill marker.
type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key" default:"vayu:kill"`
}

// RedisMarkerStore keeps the marker under one key with no expiry, so
// several bot processes can share a halt.
type RedisMarkerStore struct {
	client redisMarkerClient
	key    string
}

// NewRedisMarkerStore connects and pings the server.
func NewRedisMarkerStore(ctx context.Context, cfg RedisConfig) (*RedisMarkerStore, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisMarkerStore(client, cfg.Key), client, nil
}

func newRedisMarkerStore(client redisMarkerClient, key string) *RedisMarkerStore {
	if key == "" {
		key = "vayu:kill"
	}
	return &RedisMarkerStore{client: client, key: key}
}

func (s *RedisMarkerStore) Load(ctx context.Context) (*Marker, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	m := decodeMarker(value)
	return &m, nil
}

func (s *RedisMarkerStore) Create(ctx context.Context, m Marker) (bool, error) {
	created, err := s.client.SetNX(ctx, s.key, encodeMarker(m), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", s.key, err)
	}
	return created, nil
}

func (s *RedisMarkerStore) Remove(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", s.key, err)
	}
	return nil
}

// OpenMarkerStore builds the store named by cfg.MarkerBackend. The returned
// func releases any connection it opened.
func OpenMarkerStore(ctx context.Context, cfg Config) (MarkerStore, func(), error) {
	if cfg.MarkerBackend == "redis" {
		store, client, err := NewRedisMarkerStore(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("kill switch redis: %w", err)
		}
		return store, func() { _ = client.Close() }, nil
	}
	return NewFileMarkerStore(cfg.MarkerPath), func() {}, nil
}

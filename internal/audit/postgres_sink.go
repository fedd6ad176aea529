package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createEventsTable = `
CREATE TABLE IF NOT EXISTS system_events (
	id BIGSERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	event_type VARCHAR(50) NOT NULL,
	severity VARCHAR(20) NOT NULL,
	message TEXT NOT NULL,
	source VARCHAR(50),
	fields JSONB
);
CREATE INDEX IF NOT EXISTS idx_system_events_ts ON system_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_system_events_type ON system_events(event_type);
`

const insertEvent = `
INSERT INTO system_events (timestamp, event_type, severity, message, source, fields)
VALUES ($1, $2, $3, $4, $5, $6)`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresConfig holds the audit database connection settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns" default:"4"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" default:"10s"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" default:"1h"`
}

// PostgresSink writes events to the system_events table.
type PostgresSink struct {
	db   execer
	pool *pgxpool.Pool
}

// NewPostgresSink connects, pings and ensures the events table exists.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	sink := &PostgresSink{db: pool, pool: pool}
	if err := sink.Migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return sink, nil
}

// Migrate creates the events table when missing.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("failed to create system_events: %w", err)
	}
	return nil
}

func (s *PostgresSink) Record(ctx context.Context, event Event) error {
	var fields []byte
	if len(event.Fields) > 0 {
		var err error
		if fields, err = json.Marshal(event.Fields); err != nil {
			return fmt.Errorf("failed to marshal event fields: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, insertEvent,
		event.Timestamp, string(event.Type), string(event.Severity), event.Message, event.Source, fields)
	if err != nil {
		return fmt.Errorf("failed to insert %s event: %w", event.Type, err)
	}
	return nil
}

func (s *PostgresSink) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

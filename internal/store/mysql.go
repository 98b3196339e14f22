package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"hostpanel/pkg/plugin"
)

// MySQLConfig describes the connection to the plugin state database.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// MySQLStore persists one state row per plugin id.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore connects to MySQL and ensures the plugin_state table exists.
func NewMySQLStore(ctx context.Context, cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("mysql dsn cannot be empty")
	}
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect mysql: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// newMySQLStoreWithDB is used by tests to inject a mocked connection.
func newMySQLStoreWithDB(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS plugin_state (
		id VARCHAR(191) NOT NULL PRIMARY KEY,
		enabled TINYINT(1) NOT NULL DEFAULT 0,
		config TEXT NULL,
		updated_at BIGINT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init plugin_state schema: %w", err)
	}
	return nil
}

// Get implements plugin.StateStore.
func (s *MySQLStore) Get(ctx context.Context, id string) (plugin.State, bool, error) {
	const query = `SELECT enabled, config FROM plugin_state WHERE id = ?`
	var (
		enabled bool
		raw     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&enabled, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return plugin.State{}, false, nil
	}
	if err != nil {
		return plugin.State{}, false, fmt.Errorf("query plugin state %s: %w", id, err)
	}
	cfg, err := unmarshalConfig(raw)
	if err != nil {
		return plugin.State{}, false, err
	}
	return plugin.State{Enabled: enabled, Config: cfg}, true, nil
}

// Save implements plugin.StateStore with an upsert.
func (s *MySQLStore) Save(ctx context.Context, id string, state plugin.State) error {
	const query = `INSERT INTO plugin_state (id, enabled, config, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE enabled = VALUES(enabled), config = VALUES(config), updated_at = VALUES(updated_at)`
	raw, err := marshalConfig(state.Config)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, id, state.Enabled, raw, time.Now().Unix()); err != nil {
		return fmt.Errorf("save plugin state %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalConfig(cfg map[string]any) (sql.NullString, error) {
	if cfg == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode plugin config: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalConfig(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw.String), &cfg); err != nil {
		return nil, fmt.Errorf("decode plugin config: %w", err)
	}
	return cfg, nil
}

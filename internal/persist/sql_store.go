package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/clawinfra/applytrack/internal/actions"
)

const (
	sqlTableName        = "applytrack_state"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// Dialect holds the driver name and statements for one SQL backend.
type Dialect struct {
	Driver string
	init   []string
	load   string
	upsert string
}

var (
	// SQLite is backed by modernc.org/sqlite.
	SQLite = Dialect{
		Driver: "sqlite",
		init: []string{
			`PRAGMA journal_mode=WAL`,
			`CREATE TABLE IF NOT EXISTS ` + sqlTableName + ` (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		},
		load: `SELECT snapshot FROM ` + sqlTableName + ` WHERE state_key = ?`,
		upsert: `INSERT INTO ` + sqlTableName + ` (state_key, snapshot, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(state_key) DO UPDATE SET
				snapshot = excluded.snapshot,
				updated_at = excluded.updated_at`,
	}

	// Postgres is backed by lib/pq.
	Postgres = postgresDialect("postgres")

	// PGX is Postgres through the pgx stdlib driver.
	PGX = postgresDialect("pgx")
)

func postgresDialect(driver string) Dialect {
	return Dialect{
		Driver: driver,
		init: []string{
			`CREATE TABLE IF NOT EXISTS ` + sqlTableName + ` (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
		},
		load: `SELECT snapshot FROM ` + sqlTableName + ` WHERE state_key = $1`,
		upsert: `INSERT INTO ` + sqlTableName + ` (state_key, snapshot, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (state_key)
			DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`,
	}
}

// SQLStore keeps the action list as one row of a state table. The table is
// created lazily on first use.
type SQLStore struct {
	dialect Dialect
	dsn     string
	key     string
	openDB  sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewSQLStore creates a store for dsn using the given dialect.
func NewSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dialect: dialect,
		dsn:     dsn,
		key:     StateKey,
		openDB:  sql.Open,
	}, nil
}

func (s *SQLStore) Load(ctx context.Context) ([]actions.Action, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx, s.dialect.load, s.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue row: %w", err)
	}
	list, err := decode([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode queue row: %w", err)
	}
	return list, nil
}

func (s *SQLStore) Save(ctx context.Context, list []actions.Action) error {
	if err := s.ensureReady(ctx); err != nil {
		return err
	}
	payload, err := encode(list)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, s.key, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("save queue row: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.Driver, s.dsn)
		if err != nil {
			s.initErr = fmt.Errorf("open %s: %w", s.dialect.Driver, err)
			return
		}
		if s.dialect.Driver == SQLite.Driver {
			// One writer; avoids SQLITE_BUSY between pooled connections.
			db.SetMaxOpenConns(1)
		}

		ctx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
		defer cancel()
		for _, stmt := range s.dialect.init {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("migrate %s: %w", s.dialect.Driver, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

// Package store implements the control-plane persistence layer on
// database/sql. SQLite is the default; postgres and mysql are selected
// through the driver field of the database config. Queries are written
// once with ? placeholders and rebound for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/autoagent/autoagent/pkg/config"
)

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrExpired         = errors.New("expired")
	ErrContextMismatch = errors.New("context hash mismatch")
	ErrInvalid         = errors.New("invalid request")
)

const pingTimeout = 10 * time.Second

// Store is the SQL-backed control-plane repository.
type Store struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

// Open connects to the configured database, applies pool settings and
// creates any missing tables.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	dialect := cfg.Driver
	if dialect == "" {
		dialect = "sqlite"
	}

	driverName := dialect
	dsn := cfg.DSN
	switch dialect {
	case "sqlite":
		driverName = "sqlite3"
		if dsn == "" {
			resolved, err := defaultSQLitePath()
			if err != nil {
				return nil, err
			}
			dsn = resolved
		}
	case "postgres":
	case "mysql":
		dsn = ensureParseTime(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if dialect == "sqlite" {
		// go-sqlite3 allows a single writer at a time.
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// defaultSQLitePath resolves the sqlite file location when no DSN is
// configured: AUTOAGENT_CONTROL_DB_PATH first, then control.db under
// AUTOAGENT_DATA_DIR (or the working directory).
func defaultSQLitePath() (string, error) {
	path := os.Getenv("AUTOAGENT_CONTROL_DB_PATH")
	if path == "" {
		dataDir := os.Getenv("AUTOAGENT_DATA_DIR")
		if dataDir == "" {
			dataDir = "."
		}
		path = filepath.Join(dataDir, "control.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return path, nil
}

// ensureParseTime makes the mysql driver scan TIMESTAMP columns into
// time.Time values.
func ensureParseTime(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// q rewrites ? placeholders to the $N form postgres requires. All
// queries in this package are written in the ? style.
func (s *Store) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// nullString maps empty strings to SQL NULL on write.
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// nullTime maps nil to SQL NULL on write.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

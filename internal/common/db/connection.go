package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/horarios-data/internal/common/logger"
)

//go:embed schema.sql
var ddl string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DB struct {
	conn   *sqlx.DB
	driver string
	logger logger.Logger
}

// New opens and pings a database. driver is "postgres" (lib/pq) or "sqlite"
// (modernc.org/sqlite); for sqlite connStr is the database path.
func New(driver, connStr string, logger logger.Logger) (*DB, error) {
	if driver == DriverSQLite {
		connStr = sqliteDSN(connStr)
	}

	conn, err := sqlx.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if driver == DriverSQLite {
		// An in-memory SQLite database lives and dies with its connection.
		if strings.Contains(connStr, ":memory:") {
			conn.SetMaxOpenConns(1)
		}
		if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connection established", "driver", driver)

	return &DB{
		conn:   conn,
		driver: driver,
		logger: logger,
	}, nil
}

// sqliteDSN adds the per-connection pragmas to a SQLite path. WAL lets a
// writer commit while read transactions keep their snapshot; the busy
// timeout makes competing writers wait instead of failing.
func sqliteDSN(connStr string) string {
	if strings.Contains(connStr, ":memory:") {
		return connStr
	}
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return connStr + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Migrate creates the schedule tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(ddl, "-- migrate") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL statement [%s]: %w", stmt, err)
		}
	}
	db.logger.Debug("Database schema migrated")
	return nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, nil)
}

// BeginReadTx starts a transaction whose reads all see one snapshot.
func (db *DB) BeginReadTx(ctx context.Context) (*sqlx.Tx, error) {
	if db.driver == DriverPostgres {
		return db.conn.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	// SQLite transactions are serializable already.
	return db.conn.BeginTxx(ctx, nil)
}

// DB returns the underlying handle
func (db *DB) DB() *sqlx.DB {
	return db.conn
}

func (db *DB) Driver() string {
	return db.driver
}

// Logger returns the logger instance
func (db *DB) Logger() logger.Logger {
	return db.logger
}

// Package sqldb opens the relational store for users, the transaction ledger
// and favorites. SQLite is the default; Postgres is selected with
// DB_DRIVER=postgres. Queries are written with "?" placeholders and rebound
// per driver.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	sqlitePragmas = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
)

// DB is a *sql.DB that knows its driver's placeholder style.
type DB struct {
	*sql.DB
	driver string
}

// Open connects, pings and bootstraps the schema.
func Open(ctx context.Context, driver, dsn string, log *slog.Logger) (*DB, error) {
	switch driver {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") && !strings.Contains(dsn, ":memory:") {
			dsn += "?" + sqlitePragmas
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb open: %w", err)
	}
	if driver == DriverSQLite {
		// single writer
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqldb ping: %w", err)
	}

	db := &DB{DB: sqlDB, driver: driver}
	if err := db.createSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("sqldb schema: %w", err)
	}
	log.Info("database ready", "component", "sqldb", "driver", driver)
	return db, nil
}

func (db *DB) Driver() string { return db.driver }

// Rebind rewrites "?" placeholders to "$1..$n" for Postgres.
func (db *DB) Rebind(q string) string {
	if db.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Ping satisfies metrics.Pinger with a bounded timeout.
func (db *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a unique-constraint failure on
// either driver.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// Schema is portable across both drivers: ids are uuid strings, times are
// unix milliseconds and decimals are stored as text.
func (db *DB) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id          TEXT   PRIMARY KEY,
			username    TEXT   NOT NULL UNIQUE,
			totp_secret TEXT   NOT NULL,
			created_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id        TEXT   PRIMARY KEY,
			user_id   TEXT   NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			coin_id   TEXT   NOT NULL,
			amount    TEXT   NOT NULL,
			price_usd TEXT   NOT NULL,
			fee       TEXT,
			tx_type   TEXT   NOT NULL,
			ts        BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, ts)`,
		`CREATE TABLE IF NOT EXISTS favorites (
			id         TEXT   PRIMARY KEY,
			user_id    TEXT   NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			coin_id    TEXT   NOT NULL,
			created_at BIGINT NOT NULL,
			UNIQUE (user_id, coin_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"bestelling-engine/utils"
)

var logger = utils.NewLogger("db")

var forUpdate = regexp.MustCompile(`\s+FOR UPDATE\b`)

// Dialect selects the SQL flavour spoken by the underlying driver.
type Dialect int

const (
	// Postgres is the production store, reached through the pgx stdlib driver.
	Postgres Dialect = iota
	// SQLite is used for tests and single-node development runs.
	SQLite
)

// Querier is implemented by both *DB and *Tx. All queries are written with `?`
// placeholders and rebound to the dialect before they reach the driver.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB holds the database connection
type DB struct {
	sql     *sql.DB
	dialect Dialect
}

var _ Querier = (*DB)(nil)
var _ Querier = (*Tx)(nil)

// Open opens a connection for the given driver ("postgres" or "sqlite"),
// verifies it and applies the schema migrations.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var dialect Dialect
	var driverName string
	switch strings.ToLower(driver) {
	case "", "postgres", "pgx":
		dialect, driverName = Postgres, "pgx"
	case "sqlite", "sqlite3":
		dialect, driverName = SQLite, "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if dialect == SQLite {
		// one writer; an in-memory database lives exactly as long as its connection
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &DB{sql: conn, dialect: dialect}
	if err := ApplyMigrations(ctx, d); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info().Str("driver", driverName).Msg("✓ Database connection established successfully")
	return d, nil
}

// Dialect reports the SQL flavour of the connection.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the database connection
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// PingContext verifies the connection is still alive.
func (d *DB) PingContext(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, Rebind(d.dialect, query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, Rebind(d.dialect, query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, Rebind(d.dialect, query), args...)
}

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &Tx{tx: tx, dialect: d.dialect}, nil
}

// Tx wraps a SQL transaction
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback is safe to defer after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, Rebind(t.dialect, query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, Rebind(t.dialect, query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rebind(t.dialect, query), args...)
}

// Rebind rewrites `?` placeholders into `$1, $2, ...` for Postgres. Question
// marks inside single-quoted literals are left alone. SQLite has no row locks,
// so FOR UPDATE is dropped there.
func Rebind(dialect Dialect, query string) string {
	if dialect == SQLite {
		return forUpdate.ReplaceAllString(query, "")
	}
	if !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inLiteral = !inLiteral
			b.WriteByte(c)
		case c == '?' && !inLiteral:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

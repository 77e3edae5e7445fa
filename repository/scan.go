package repository

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row doesn't exist
var ErrNotFound = errors.New("not found")

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ErrNoCapacity is returned when a seat or stock reservation cannot be served
var ErrNoCapacity = errors.New("no capacity left")

// Package usql wraps database/sql so every statement is timed in the gocore
// "SQL" stat tree, keyed by statement.
package usql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/ordishs/gocore"
)

var (
	stat = gocore.NewStat("SQL")
)

type DB struct {
	*sql.DB
}

func Open(driverName, dataSourceName string) (*DB, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Wrap instruments an existing connection pool, e.g. one created by sqlmock.
func Wrap(db *sql.DB) *DB {
	return &DB{db}
}

// statKey collapses the whitespace of multi-line statements so each one shows
// up as a single readable stat line.
func statKey(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(statKey(query)).AddTime(start)
	}()

	return db.DB.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(statKey(query)).AddTime(start)
	}()

	return db.DB.QueryRowContext(ctx, query, args...)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(statKey(query)).AddTime(start)
	}()

	return db.DB.ExecContext(ctx, query, args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}

	return &Tx{tx}, nil
}

// Tx is a transaction whose statements are timed like those of DB.
type Tx struct {
	*sql.Tx
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(statKey(query)).AddTime(start)
	}()

	return tx.Tx.ExecContext(ctx, query, args...)
}

func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	start := gocore.CurrentTime()
	defer func() {
		stat.NewStat(statKey(query)).AddTime(start)
	}()

	return tx.Tx.QueryRowContext(ctx, query, args...)
}

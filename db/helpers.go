package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

// ErrStoreBusy is returned when a write could not acquire the database
// lock within the retry budget.
var ErrStoreBusy = errors.New("database busy")

// QueryParam represents a parameter for database queries
type QueryParam interface{}

func (d *DB) logQuery(kind string, query string, params []QueryParam) {
	if !d.logQueries {
		return
	}
	log.Debug().
		Str("kind", kind).
		Str("sql", query).
		Interface("params", params).
		Msg("db query")
}

// Select runs a SELECT query returning multiple rows.
// The scanner function is called for each row to map results.
func Select[T any](d *DB, query string, params []QueryParam, scanner func(*sql.Rows) (T, error)) ([]T, error) {
	d.logQuery("select", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scanner(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SelectOne runs a SELECT query returning a single row (or nil if not found)
func SelectOne[T any](d *DB, query string, params []QueryParam, scanner func(*sql.Row) (T, error)) (*T, error) {
	d.logQuery("get", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	row := d.conn.QueryRow(query, args...)
	result, err := scanner(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// Run executes an INSERT/UPDATE/DELETE query, retrying transient
// lock conflicts with exponential backoff.
func (d *DB) Run(query string, params ...QueryParam) (sql.Result, error) {
	d.logQuery("run", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	return retryBusy(func() (sql.Result, error) {
		return d.conn.Exec(query, args...)
	})
}

// retryBusy retries op while sqlite reports SQLITE_BUSY or SQLITE_LOCKED.
// Any other error aborts immediately.
func retryBusy[T any](op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	result, err := backoff.Retry(context.Background(), func() (T, error) {
		v, err := op()
		if err != nil && !isBusy(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(2*time.Second))

	if err != nil && isBusy(err) {
		return result, fmt.Errorf("%w: %v", ErrStoreBusy, err)
	}
	return result, err
}

// isBusy reports whether err is a transient sqlite lock conflict
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// withTx runs fn inside a transaction, committing on nil error
func (d *DB) withTx(fn func(tx *sql.Tx) error) error {
	_, err := retryBusy(func() (struct{}, error) {
		tx, err := d.conn.Begin()
		if err != nil {
			return struct{}{}, err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return struct{}{}, err
		}
		return struct{}{}, tx.Commit()
	})
	return err
}

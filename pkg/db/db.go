// SPDX-License-Identifier: Apache-2.0

// Package db wraps the lake's *sql.DB with retry-on-lock-contention
// semantics used by the catalog store. The bulk writer and the
// orchestrator work on the raw *sql.DB from RawConn, without the retry.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"
)

const (
	lockNotAvailableErrorCode pq.ErrorCode = "55P03"
	maxBackoffDuration                     = 1 * time.Minute
	backoffInterval                        = 1 * time.Second

	// DefaultStatementTimeout is the per-statement timeout applied to every
	// lake connection (spec §4.3.1, §5: STATEMENT_TIMEOUT default 600s).
	DefaultStatementTimeout = 600 * time.Second
)

// DB is the capability set the rest of the synchronizer needs from a lake
// connection. It is satisfied by *RDB and by test fakes.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	RawConn() *sql.DB
	Close() error
}

// RDB wraps a *sql.DB and retries queries using an exponential backoff (with
// jitter) on lock_timeout errors, matching the retry policy the lake
// connection needs under concurrent table workers (§5 shared-resource
// policy).
type RDB struct {
	DB *sql.DB
}

// Open connects to the lake and pings it. The statement timeout is baked
// into the DSN itself (spec §4.3.1, §6 statementTimeoutSec) rather than
// set with a post-connect statement, because *sql.DB pools many physical
// connections behind one handle — every table worker shares this same
// *sql.DB (C6), and a `SET` issued once at Open only ever reaches
// whichever single connection happens to be idle at that moment. A DSN
// parameter is forwarded by lib/pq as a startup parameter on every new
// physical connection the pool opens, so the timeout applies uniformly
// regardless of how many connections MaxWorkers ends up driving.
func Open(ctx context.Context, dsn string, statementTimeout time.Duration) (*RDB, error) {
	if statementTimeout <= 0 {
		statementTimeout = DefaultStatementTimeout
	}

	dsn, err := withStatementTimeout(dsn, statementTimeout)
	if err != nil {
		return nil, fmt.Errorf("setting statement_timeout on DSN: %w", err)
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening lake connection: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging lake: %w", err)
	}

	return &RDB{DB: conn}, nil
}

// withStatementTimeout returns dsn with a statement_timeout parameter
// added, in whichever of lib/pq's two accepted forms dsn is already in:
// a postgres:// URL (query parameter) or a space-separated keyword=value
// string (appended keyword). statement_timeout is a GUC settable both at
// backend start and at runtime, so either form carries it into every
// connection libpq opens from this DSN (spec §4.3.1).
func withStatementTimeout(dsn string, timeout time.Duration) (string, error) {
	ms := strconv.FormatInt(timeout.Milliseconds(), 10)

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("statement_timeout", ms)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	return strings.TrimSpace(dsn) + fmt.Sprintf(" statement_timeout=%s", ms), nil
}

// ExecContext wraps sql.DB.ExecContext, retrying queries on lock_timeout errors.
func (db *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		res, err := db.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryContext wraps sql.DB.QueryContext, retrying queries on lock_timeout errors.
func (db *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := db.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// WithRetryableTransaction runs `f` in a transaction, retrying on lock_timeout errors.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := db.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil {
			return errRollback
		}

		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == lockNotAvailableErrorCode {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return err
			}
			continue
		}

		return err
	}
}

// RawConn exposes the underlying *sql.DB for callers, such as the bulk
// writer, that need finer-grained transaction control than
// WithRetryableTransaction provides (per-row isolation, DDL statements).
func (db *RDB) RawConn() *sql.DB {
	return db.DB
}

func (db *RDB) Close() error {
	return db.DB.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue is a helper function to scan the first value with the assumption that Rows contains
// a single row with a single value.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}

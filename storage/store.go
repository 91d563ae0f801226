package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
)

// RetryConfig governs the bounded exponential backoff applied when a
// transaction fails to start or commit because the single writer is busy.
type RetryConfig struct {
	Max             int
	InitialBackoff  time.Duration
	Factor          float64
}

// DefaultRetryConfig matches the documented defaults: 5 retries after the
// first attempt, 1s -> 16s exponential growth.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Max: 5, InitialBackoff: time.Second, Factor: 2}
}

// Store wraps the embedded SQLite database with the transaction primitive
// the rest of the engine builds on: a single immediate transaction per
// public operation, serialized at the storage layer, retried with bounded
// backoff on lock contention.
type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	retry       RetryConfig
}

// Open creates (or attaches to) the embedded store at path. Use ":memory:"
// for ephemeral stores in tests. busyTimeout and retry mirror the engine's
// configuration (§6 busy_timeout_ms / transaction_retry.*).
func Open(path string, busyTimeout time.Duration, retry RetryConfig) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// A single writer is serialized by the engine, not by the driver pool;
	// one open connection keeps SQLite's own locking semantics simple.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, busyTimeout: busyTimeout, retry: retry}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for read-only queries issued directly by
// domain packages (SELECTs never need the write-retry wrapper below).
func (s *Store) DB() *sql.DB { return s.db }

// Tx is an active immediate transaction handed to a single public operation.
type Tx struct {
	*sql.Tx
}

// WithImmediate runs fn inside a single BEGIN IMMEDIATE transaction,
// committing on success and rolling back on any error (including a panic,
// which is re-raised after rollback). Lock-contention errors are retried
// with bounded exponential backoff (max 5 retries, 1s -> 16s) before being
// surfaced as a lock-timeout failure.
func (s *Store) WithImmediate(ctx context.Context, fn func(tx *Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialBackoff
	b.Multiplier = s.retry.Factor
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not wall-clock

	attempts := 0
	operation := func() error {
		attempts++
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}

		runErr := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					sqlTx.Rollback()
					panic(r)
				}
			}()
			return fn(&Tx{Tx: sqlTx})
		}()

		if runErr != nil {
			sqlTx.Rollback()
			if isBusy(runErr) {
				return runErr
			}
			return backoff.Permanent(runErr)
		}
		if err := sqlTx.Commit(); err != nil {
			if isBusy(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(b, uint64(s.retry.Max)))
	if err != nil && isBusy(err) {
		return fmt.Errorf("storage: lock timeout after %d attempts: %w", attempts, err)
	}
	return err
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		errors.Is(err, context.DeadlineExceeded)
}

// NextSequenceNumber computes max(existing numeric value)+1 for a UNIQUE
// text column that may also contain legacy non-numeric values (e.g. the
// invoice table's historical "I#####" bill numbers), left-zero-padded to
// at least minDigits. Legacy rows are read but never produced by this
// generator. Must be called inside the same immediate transaction that
// will insert the new row, so concurrent inserts serialize on the writer
// lock rather than racing on the numeric scan.
func NextSequenceNumber(tx *Tx, table, column string, minDigits int) (string, error) {
	row := tx.QueryRow(fmt.Sprintf(
		`SELECT MAX(CAST(%s AS INTEGER)) FROM %s WHERE %s GLOB '[0-9]*'`, column, table, column))
	var max sql.NullInt64
	if err := row.Scan(&max); err != nil {
		return "", fmt.Errorf("storage: scan max %s.%s: %w", table, column, err)
	}
	next := int64(1)
	if max.Valid {
		next = max.Int64 + 1
	}
	return fmt.Sprintf("%0*d", minDigits, next), nil
}

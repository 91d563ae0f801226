package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironmark/ledgerengine/storage"
)

func open(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(":memory:", 5*time.Second, storage.DefaultRetryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestWithImmediateCommitsOnSuccess(t *testing.T) {
	st := open(t)
	err := st.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		_, err := tx.Exec(`INSERT INTO customers (name, balance, created_at) VALUES ('Ravi', '0.00', '2026-01-01')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM customers`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithImmediateRollsBackOnError(t *testing.T) {
	st := open(t)
	sentinel := errors.New("boom")
	err := st.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		if _, err := tx.Exec(`INSERT INTO customers (name, balance, created_at) VALUES ('Ravi', '0.00', '2026-01-01')`); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM customers`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestNextSequenceNumberStartsAtOne(t *testing.T) {
	st := open(t)
	var got string
	err := st.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		n, err := storage.NextSequenceNumber(tx, "invoices", "bill_number", 2)
		got = n
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "01", got)
}

func TestNextSequenceNumberIgnoresLegacyFormat(t *testing.T) {
	st := open(t)
	_, err := st.DB().Exec(`INSERT INTO customers (name, balance, created_at) VALUES ('Guest Co', '0.00', '2026-01-01')`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO invoices (bill_number, customer_id, grand_total, payment_amount, remaining_balance, status, created_at)
		VALUES ('I00017', 1, '0.00', '0.00', '0.00', 'paid', '2026-01-01')`)
	require.NoError(t, err)

	var got string
	err = st.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		n, err := storage.NextSequenceNumber(tx, "invoices", "bill_number", 2)
		got = n
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "01", got)
}

func TestNextSequenceNumberAdvancesPastNumericMax(t *testing.T) {
	st := open(t)
	_, err := st.DB().Exec(`INSERT INTO customers (name, balance, created_at) VALUES ('Guest Co', '0.00', '2026-01-01')`)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO invoices (bill_number, customer_id, grand_total, payment_amount, remaining_balance, status, created_at)
		VALUES ('07', 1, '0.00', '0.00', '0.00', 'paid', '2026-01-01')`)
	require.NoError(t, err)

	var got string
	err = st.WithImmediate(context.Background(), func(tx *storage.Tx) error {
		n, err := storage.NextSequenceNumber(tx, "invoices", "bill_number", 2)
		got = n
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "08", got)
}

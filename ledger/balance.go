package ledger

import (
	"database/sql"
	"fmt"

	"github.com/ironmark/ledgerengine/cache"
	"github.com/ironmark/ledgerengine/money"
)

// Querier is satisfied by both *sql.DB and *storage.Tx; balance reads can
// run against either, while every write in this package requires the
// caller to be inside a storage.Tx (passed in as a Querier all the same).
type Querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
	Exec(query string, args ...any) (sql.Result, error)
}

// Manager is the balance manager (E) + ledger engine (F) combined: every
// balance mutation is, definitionally, a ledger append, so the two
// components share one implementation keyed on the customer_ledger_entries
// table as the single source of truth. customers.balance is a pure cache.
type Manager struct {
	cache *cache.Cache
}

// New builds a Manager. cache may be nil, in which case balance reads
// always recompute from the ledger.
func New(c *cache.Cache) *Manager {
	return &Manager{cache: c}
}

// CurrentBalance returns Σ(debits) − Σ(credits) over the customer's ledger
// (adjustment entries excluded per I1). The guest customer always has a
// balance of zero (I6) without touching the store.
func (m *Manager) CurrentBalance(q Querier, customerID int64) (money.Money, error) {
	if customerID == GuestCustomerID {
		return money.Zero, nil
	}
	if m.cache != nil {
		if v, ok := m.cache.Get(cacheKeyBalance(customerID)); ok {
			return v.(money.Money), nil
		}
	}
	bal, err := m.sumLedger(q, customerID)
	if err != nil {
		return money.Money{}, err
	}
	if m.cache != nil {
		m.cache.Put(cacheKeyBalance(customerID), bal)
	}
	return bal, nil
}

func (m *Manager) sumLedger(q Querier, customerID int64) (money.Money, error) {
	return m.sumLedgerExcluding(q, customerID, "", 0)
}

// sumLedgerExcluding sums the ledger exactly like sumLedger, but omits
// every row matching (excludeRefType, excludeRefID). Passing an
// empty excludeRefType sums the whole ledger, unfiltered.
func (m *Manager) sumLedgerExcluding(q Querier, customerID int64, excludeRefType string, excludeRefID int64) (money.Money, error) {
	query := `SELECT entry_type, amount FROM customer_ledger_entries WHERE customer_id = ?`
	args := []any{customerID}
	if excludeRefType != "" {
		query += ` AND NOT (reference_type = ? AND reference_id = ?)`
		args = append(args, excludeRefType, excludeRefID)
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return money.Money{}, fmt.Errorf("ledger: sum balance for customer %d: %w", customerID, err)
	}
	defer rows.Close()

	total := money.Zero
	for rows.Next() {
		var entryType string
		var amountStr string
		if err := rows.Scan(&entryType, &amountStr); err != nil {
			return money.Money{}, err
		}
		amt, err := money.ParseMoney(amountStr)
		if err != nil {
			return money.Money{}, err
		}
		switch EntryType(entryType) {
		case Debit:
			total = total.Add(amt)
		case Credit:
			total = total.Sub(amt)
		case Adjustment:
			// reference-only, never shifts the running balance
		}
	}
	return total, rows.Err()
}

// AvailableCredit is max(0, -balance). When excludeInvoiceID is set, the
// named invoice's own charge entry (reference_type="invoice") is left out
// of the sum, so a caller applying credit toward an invoice it just
// charged sees the credit available *before* that charge rather than
// after — the charge itself is not what the credit is competing against.
func (m *Manager) AvailableCredit(q Querier, customerID int64, excludeInvoiceID *int64) (money.Money, error) {
	if customerID == GuestCustomerID {
		return money.Zero, nil
	}
	var bal money.Money
	var err error
	if excludeInvoiceID != nil {
		bal, err = m.sumLedgerExcluding(q, customerID, "invoice", *excludeInvoiceID)
	} else {
		bal, err = m.CurrentBalance(q, customerID)
	}
	if err != nil {
		return money.Money{}, err
	}
	if !bal.IsNegative() {
		return money.Zero, nil
	}
	return bal.Neg(), nil
}

// Reconcile overwrites customers.balance with the ledger SUM. Idempotent:
// calling it twice in a row leaves the stored value unchanged the second
// time.
func (m *Manager) Reconcile(q Querier, customerID int64) error {
	if customerID == GuestCustomerID {
		return nil
	}
	bal, err := m.sumLedger(q, customerID)
	if err != nil {
		return err
	}
	if _, err := q.Exec(`UPDATE customers SET balance = ? WHERE id = ?`, bal.String(), customerID); err != nil {
		return fmt.Errorf("ledger: reconcile customer %d: %w", customerID, err)
	}
	if m.cache != nil {
		m.cache.Put(cacheKeyBalance(customerID), bal)
	}
	return nil
}

func cacheKeyBalance(customerID int64) string {
	return fmt.Sprintf("customer_balance_%d", customerID)
}
